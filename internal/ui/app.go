package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"blurcam/internal/config"
	"blurcam/internal/ui/cwidget"
	"blurcam/processing/capture"
	"blurcam/processing/compositor"
	"blurcam/processing/pipeline"
	"blurcam/processing/record"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
)

const openTimeout = 10 * time.Second

type BlurApp struct {
	fyneApp fyne.App
	mainWin fyne.Window

	config   *config.Config
	loop     *pipeline.Loop
	recorder *record.Recorder

	mu        sync.Mutex
	source    *capture.Source
	cameraErr error
	stopUI    chan struct{}

	dynamicSettings *fyne.Container
	staticSettings  *fyne.Container

	videoCanvas  *canvas.Image
	latencyLabel *widget.Label
	fpsLabel     *widget.Label
	statusLabel  *widget.Label
	retryButton  *widget.Button
	blurButton   *widget.Button
	recordButton *widget.Button
}

func CreateApp(loop *pipeline.Loop, rec *record.Recorder, cfg *config.Config) *BlurApp {
	a := app.New()
	w := a.NewWindow("blurcam")

	w.Resize(fyne.NewSize(1200, 600))

	return &BlurApp{
		fyneApp:  a,
		mainWin:  w,
		loop:     loop,
		recorder: rec,
		config:   cfg,
	}
}

// CameraErr reports why the camera is not delivering frames, or nil.
func (a *BlurApp) CameraErr() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cameraErr
}

func (a *BlurApp) Run() {
	a.dynamicSettings = container.NewVBox()

	sourceTypeSelect := widget.NewSelect(config.SourcesList[:], func(s string) {
		a.config.SetSource(config.SourceType(s))
		a.refreshSettingsUI(s)
	})

	sourceTypeSelect.SetSelected(string(a.config.GetSource()))

	settingsLabel := widget.NewLabelWithStyle("Configuration", fyne.TextAlignLeading, fyne.TextStyle{Bold: true})

	a.videoCanvas = canvas.NewImageFromImage(nil)
	a.videoCanvas.FillMode = canvas.ImageFillContain
	a.videoCanvas.SetMinSize(fyne.NewSize(640, 480))

	stats := a.loop.Stats()
	a.latencyLabel = widget.NewLabel(a.formatLatency(stats.Latency))
	a.fpsLabel = widget.NewLabel(a.formatFPS(stats.FPS))
	a.statusLabel = widget.NewLabel("Camera: stopped")

	a.retryButton = widget.NewButtonWithIcon("Retry", theme.ViewRefreshIcon(), func() {
		a.StartProcessing()
	})
	a.retryButton.Hide()

	a.blurButton = widget.NewButton(a.blurButtonText(a.loop.BlurMode()), func() {
		mode := a.loop.ToggleBlur()
		slog.Info("blur toggled", "mode", mode, "via", "ui")
		a.blurButton.SetText(a.blurButtonText(mode))
	})

	a.recordButton = widget.NewButtonWithIcon("Start Recording", theme.MediaRecordIcon(), a.onRecordPressed)

	videoContainer := container.NewBorder(
		container.NewHBox(a.fpsLabel, widget.NewSeparator(), a.latencyLabel, widget.NewSeparator(), a.statusLabel, a.retryButton),
		container.NewHBox(a.blurButton, a.recordButton),
		nil, nil,
		a.videoCanvas,
	)

	a.setupConfigSettings()

	sidebar := container.NewVBox(
		settingsLabel,
		widget.NewSeparator(),
		widget.NewLabel("Source Type:"),
		sourceTypeSelect,
		widget.NewSeparator(),
		a.dynamicSettings,
		a.staticSettings,
		widget.NewSeparator(),
		widget.NewButtonWithIcon("Start Camera", theme.MediaPlayIcon(), func() {
			a.StartProcessing()
		}),
	)

	split := container.NewHSplit(
		container.NewPadded(sidebar),
		container.NewPadded(videoContainer),
	)
	split.SetOffset(0.3)

	a.mainWin.SetContent(split)

	a.refreshSettingsUI(string(a.config.GetSource()))

	a.mainWin.SetCloseIntercept(func() {
		a.config.SaveByDefault()
		a.shutdown()
		a.mainWin.Close()
	})

	a.mainWin.CenterOnScreen()
	a.StartProcessing()
	a.mainWin.ShowAndRun()
}

func (a *BlurApp) blurButtonText(mode compositor.BlurMode) string {
	if mode == compositor.Blurred {
		return "Blur: on"
	}
	return "Blur: off"
}

func (a *BlurApp) onRecordPressed() {
	switch a.recorder.State() {
	case record.Idle:
		if _, err := a.recorder.Start(); err != nil {
			dialog.ShowError(err, a.mainWin)
			return
		}
		a.recordButton.SetText("Stop Recording")
		a.recordButton.SetIcon(theme.MediaStopIcon())

	case record.Recording:
		a.recordButton.Disable()
		a.recordButton.SetText("Saving...")
		go func() {
			art, err := a.recorder.Stop(context.Background())
			fyne.Do(func() {
				a.recordButton.Enable()
				a.recordButton.SetText("Start Recording")
				a.recordButton.SetIcon(theme.MediaRecordIcon())
				if err != nil {
					dialog.ShowError(err, a.mainWin)
					return
				}
				dialog.ShowInformation("Recording saved",
					fmt.Sprintf("%s\n%d frames, %.1f s", art.Path, art.Frames, art.Duration.Seconds()), a.mainWin)
			})
		}()

	default:
		dialog.ShowError(fmt.Errorf("%w: recording is %s", record.ErrInvalidStateTransition, a.recorder.State()), a.mainWin)
	}
}

// StopProcessing halts the loop and releases the camera.
func (a *BlurApp) StopProcessing() {
	a.loop.Stop()

	a.mu.Lock()
	src := a.source
	a.source = nil
	if a.stopUI != nil {
		close(a.stopUI)
		a.stopUI = nil
	}
	a.mu.Unlock()

	a.loop.SetSource(nil)
	if src != nil {
		src.Close()
	}
}

// StartProcessing (re)opens the configured source and starts the loop once
// the first frame arrived. Camera failures are shown with a retry option.
func (a *BlurApp) StartProcessing() {
	a.StopProcessing()
	a.setCameraStatus(nil, "Camera: starting...")

	streamer, err := capture.NewStreamer(a.config)
	if err != nil {
		a.cameraFailed(err)
		return
	}
	src := capture.NewSource(streamer)

	stop := make(chan struct{})
	a.mu.Lock()
	a.source = src
	a.stopUI = stop
	a.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
		defer cancel()

		if err := src.Open(ctx); err != nil {
			src.Close()
			if a.isCurrent(src) {
				a.cameraFailed(err)
			}
			return
		}
		if !a.isCurrent(src) {
			src.Close()
			return
		}

		a.loop.SetSource(src)
		a.loop.Start(context.Background())
		a.setCameraStatus(nil, "Camera: live")

		go a.runPlayerLoop(stop)
		go a.runStatLoop(stop)
		a.watchSource(src, stop)
	}()
}

// isCurrent reports whether src is still the active source, i.e. no restart
// happened while it was opening.
func (a *BlurApp) isCurrent(src *capture.Source) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.source == src
}

func (a *BlurApp) watchSource(src *capture.Source, stop chan struct{}) {
	select {
	case <-stop:
	case <-src.Done():
		if err := src.Err(); err != nil {
			a.cameraFailed(err)
			return
		}
		a.setCameraStatus(nil, "Camera: stream ended")
	}
}

func (a *BlurApp) cameraFailed(err error) {
	slog.Error("camera unavailable", "err", err)

	status := "Camera: unavailable"
	if errors.Is(err, capture.ErrPermissionDenied) {
		status = "Camera: permission denied"
	}
	a.setCameraStatus(err, status)

	fyne.Do(func() {
		dialog.ShowError(err, a.mainWin)
	})
}

func (a *BlurApp) setCameraStatus(err error, text string) {
	a.mu.Lock()
	a.cameraErr = err
	a.mu.Unlock()

	fyne.Do(func() {
		a.statusLabel.SetText(text)
		if err != nil {
			a.retryButton.Show()
		} else {
			a.retryButton.Hide()
		}
	})
}

func (a *BlurApp) shutdown() {
	a.StopProcessing()

	if a.recorder.State() == record.Recording {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := a.recorder.Stop(ctx); err != nil {
			slog.Error("finishing recording on exit", "err", err)
		}
	}
}

func (a *BlurApp) runStatLoop(stop chan struct{}) {
	uiTicker := time.NewTicker(time.Millisecond * 200)
	defer uiTicker.Stop()

	for {
		select {
		case <-uiTicker.C:
			st := a.loop.Stats()
			fyne.Do(func() {
				a.latencyLabel.SetText(a.formatLatency(st.Latency))
				a.fpsLabel.SetText(a.formatFPS(st.FPS))
				a.blurButton.SetText(a.blurButtonText(st.Mode))
			})
		case <-stop:
			return
		}
	}
}

func (a *BlurApp) formatFPS(v float64) string {
	return fmt.Sprintf("FPS: %.0f", v)
}

func (a *BlurApp) formatLatency(v time.Duration) string {
	return fmt.Sprintf("Latency: %d ms", v.Milliseconds())
}

func (a *BlurApp) runPlayerLoop(stop chan struct{}) {
	for {
		select {
		case frame := <-a.loop.Out:
			if frame == nil {
				continue
			}
			fyne.Do(func() {
				a.videoCanvas.Image = frame
				a.videoCanvas.Refresh()
			})

		case <-stop:
			return
		}
	}
}

func (a *BlurApp) setupConfigSettings() {
	a.staticSettings = container.NewVBox()

	fpsInput := cwidget.NewIntInput(
		"FPS",
		"Enter integer",
		int(a.config.GetFPS()),
		func(i int) {
			a.config.SetFPS(uint(i))
		},
	)

	widthInput := cwidget.NewIntInput(
		"Width",
		"Enter integer",
		a.config.GetWidth(),
		func(i int) {
			a.config.SetWidth(i)
		},
	)

	heightInput := cwidget.NewIntInput(
		"Height",
		"Enter integer",
		a.config.GetHeight(),
		func(i int) {
			a.config.SetHeight(i)
		},
	)

	radiusInput := cwidget.NewFloatInput(
		"Blur radius",
		"Enter number",
		a.config.GetBlur().Radius,
		func(r float64) {
			b := a.config.GetBlur()
			b.Radius = r
			a.config.SetBlur(b)
			a.loop.SetBlurRadius(r)
		},
	)

	applyCfg := widget.NewButton("Apply", func() {
		a.StartProcessing()
	})

	a.staticSettings.Add(fpsInput)
	a.staticSettings.Add(widthInput)
	a.staticSettings.Add(heightInput)
	a.staticSettings.Add(radiusInput)

	a.staticSettings.Add(applyCfg)
}

func (a *BlurApp) refreshSettingsUI(sourceType string) {
	a.dynamicSettings.Objects = nil

	switch config.SourceType(sourceType) {
	case config.SourceLocal:
		pathEntry := widget.NewEntry()
		pathEntry.SetPlaceHolder("/path/to/video.mp4")
		pathEntry.SetText(a.config.Local.Path)

		pathEntry.OnChanged = func(s string) {
			a.config.Local.Path = s
		}

		fileBtn := widget.NewButtonWithIcon("Open File", theme.FolderOpenIcon(), func() {
			dialog.ShowFileOpen(func(reader fyne.URIReadCloser, err error) {
				if err == nil && reader != nil {
					path := reader.URI().Path()
					pathEntry.SetText(path)
				}
			}, a.mainWin)
		})

		a.dynamicSettings.Add(widget.NewLabel("Video Path:"))
		a.dynamicSettings.Add(container.NewBorder(nil, nil, nil, fileBtn, pathEntry))

	case config.SourceWebcam:
		deviceSelect := widget.NewSelect([]string{"Loading cameras..."}, func(s string) {
			if s != "Loading cameras..." && s != "No cameras found" {
				a.config.Webcam.DeviceID = s
			}
		})
		deviceSelect.SetSelected("Loading cameras...")
		deviceSelect.Disable()

		a.dynamicSettings.Add(widget.NewLabel("Select Camera:"))
		a.dynamicSettings.Add(deviceSelect)
		a.dynamicSettings.Refresh()

		go func() {
			devices, err := capture.ListCameras()

			fyne.Do(func() {
				if err != nil {
					slog.Warn("listing cameras", "err", err)
					deviceSelect.Options = []string{"No cameras found"}
				} else {
					deviceSelect.Options = devices
					deviceSelect.Enable()

					if a.config.Webcam.DeviceID != "" {
						deviceSelect.SetSelected(a.config.Webcam.DeviceID)
					} else {
						deviceSelect.SetSelected(devices[0])
					}
				}
				deviceSelect.Refresh()
			})
		}()

	case config.SourcePattern:
		a.dynamicSettings.Add(widget.NewLabel("Synthetic test pattern"))
	}

	a.dynamicSettings.Refresh()
}
