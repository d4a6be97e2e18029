// Command scrcpymirror is a headless demo host for the scrcpysession
// library: it loads a YAML SessionOptions file, wires a real adb-backed
// launcher and the default codec/sink implementations, and drives one
// capture session from the command line, printing frame/connection
// events to the log the way a debugframes flag would.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anothermirror/scrcpy-core/audiodecoder"
	"github.com/anothermirror/scrcpy-core/audiostream"
	"github.com/anothermirror/scrcpy-core/frame"
	"github.com/anothermirror/scrcpy-core/power"
	"github.com/anothermirror/scrcpy-core/scrcpysession"
	"github.com/anothermirror/scrcpy-core/sink"
	"github.com/anothermirror/scrcpy-core/videodecoder"

	"github.com/hajimehoshi/oto/v2"
)

var version = "dev"
var build = "local"

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to the YAML session configuration")
	serialFlag := flag.String("serial", "", "device serial (overrides config)")
	debugFlag := flag.Bool("debug", false, "enable verbose logging to stdout")
	initFlag := flag.Bool("init-config", false, "write a default configuration to -config and exit")
	flag.Parse()

	if *initFlag {
		if err := saveDefaultOptions(*configPath); err != nil {
			log.Fatalf("config: write default: %v", err)
		}
		fmt.Printf("wrote default configuration to %s\n", *configPath)
		return
	}

	opts, err := loadOptions(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *serialFlag != "" {
		opts.Serial = *serialFlag
	}
	if *debugFlag {
		opts.Debug = true
	}
	if opts.Serial == "" {
		log.Fatalf("config: serial is required (set it in %s or pass -serial)", *configPath)
	}

	if logFile, err := setupLogging(opts.Debug); err == nil && logFile != nil {
		defer logFile.Close()
	}
	log.Printf("scrcpymirror v%s (build %s) starting for device %s", version, build, opts.Serial)

	sess, err := buildSession(opts)
	if err != nil {
		log.Fatalf("session setup: %v", err)
	}

	sess.OnStateChange = func(st scrcpysession.State) {
		log.Printf("session state -> %s", st)
	}
	var frameCount uint64
	sess.OnFrame = func(f *frame.Frame) {
		frameCount++
		if frameCount%120 == 1 {
			log.Printf("frame #%d: %dx%d pts=%dus", frameCount, f.Width, f.Height, f.PresentedAt)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sess.Connect(); err != nil {
		log.Fatalf("connect: %v", err)
	}
	if err := sess.StartCapture(ctx); err != nil {
		log.Fatalf("start capture: %v", err)
	}
	log.Printf("capturing; press Ctrl+C to stop")

	<-ctx.Done()
	log.Printf("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.StopCapture(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("stop capture: %v", err)
	}
	sess.Disconnect(stopCtx)
}

// buildSession wires every scrcpysession.Deps collaborator: the real
// adb-backed launcher, the astiav-backed video decoder, the codec-
// dispatching audio decoder factory, an oto/v2 sink, and a power
// coordinator active for the process lifetime.
func buildSession(opts SessionOptions) (*scrcpysession.Session, error) {
	adb := newRealAdb("")
	pwr := power.New()
	pwr.WatchSleep()

	var otoCtx *oto.Context
	if opts.AudioEnabled {
		ctx, err := sink.NewContext(opts.AudioSampleRate, opts.AudioChannels)
		if err != nil {
			return nil, fmt.Errorf("audio context: %w", err)
		}
		otoCtx = ctx
	}

	deps := scrcpysession.Deps{
		Adb: adb,
		NewVideoDecoder: func(p *frame.Pipeline) videodecoder.Decoder {
			return videodecoder.NewDefault(p)
		},
		NewAudioDecoder: newAudioDecoderFor,
		Dispatcher:      func(fn func()) { fn() },
		Power:           pwr,
	}
	if opts.AudioEnabled {
		deps.NewSink = func(pull func(int) []float32) scrcpysession.AudioSink {
			return sink.New(otoCtx, opts.AudioChannels, pull)
		}
	}

	cfg := scrcpysession.Config{
		Serial:           opts.Serial,
		ServerPath:       opts.ServerPath,
		DeviceServerPath: opts.DeviceServerPath,
		Port:             opts.Port,
		ConnectionMode:   opts.connectionMode(),
		MaxSize:          opts.MaxSize,
		BitrateBps:       opts.BitrateBps,
		MaxFPS:           opts.MaxFPS,
		ShowTouches:      opts.ShowTouches,
		TurnScreenOff:    opts.TurnScreenOff,
		StayAwake:        opts.StayAwake,
		AudioEnabled:     opts.AudioEnabled,
		VideoCodec:       opts.codec(),
		VideoFraming:     opts.framing(),
		AudioSampleRate:  opts.AudioSampleRate,
		AudioChannels:    opts.AudioChannels,
		TargetBufferMs:   opts.TargetBufferMs,
		ConnectTimeout:   time.Duration(opts.ConnectTimeoutMs) * time.Millisecond,
	}

	return scrcpysession.New(cfg, deps), nil
}

// newAudioDecoderFor constructs the codec-specific audio decoder for the
// codec id observed at the head of the audio stream. FLAC is not wired
// to a decoder here; scrcpy rarely negotiates it and no pack example
// carries a Go FLAC decoder, so it reports an unsupported-codec error
// instead of silently dropping audio.
func newAudioDecoderFor(codec audiostream.CodecID) (audiodecoder.Decoder, error) {
	switch codec {
	case audiostream.CodecRaw:
		return audiodecoder.NewRaw(), nil
	case audiostream.CodecAAC:
		return audiodecoder.NewAAC(), nil
	case audiostream.CodecOpus:
		return audiodecoder.NewOpus(), nil
	default:
		return nil, fmt.Errorf("scrcpymirror: unsupported audio codec %s", codec)
	}
}
