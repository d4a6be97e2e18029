package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/anothermirror/scrcpy-core/transport"
	"github.com/anothermirror/scrcpy-core/videostream"
)

const appName = "scrcpymirror"

// SessionOptions is the on-disk YAML configuration for one mirroring run,
// the demo entrypoint's analogue of CameraConfig.
type SessionOptions struct {
	Serial           string `yaml:"serial"`
	ServerPath       string `yaml:"server_path"`
	DeviceServerPath string `yaml:"device_server_path,omitempty"`
	Port             int    `yaml:"port,omitempty"`
	Forward          bool   `yaml:"forward,omitempty"` // use adb forward instead of adb reverse
	MaxSize          int    `yaml:"max_size,omitempty"`
	BitrateBps       int    `yaml:"bitrate_bps,omitempty"`
	MaxFPS           int    `yaml:"max_fps,omitempty"`
	ShowTouches      bool   `yaml:"show_touches,omitempty"`
	TurnScreenOff    bool   `yaml:"turn_screen_off,omitempty"`
	StayAwake        bool   `yaml:"stay_awake,omitempty"`
	VideoCodec       string `yaml:"video_codec,omitempty"`   // "h264" or "h265"
	VideoMetaFraming bool   `yaml:"video_meta_framing,omitempty"` // true for the 12-byte-header framing variant, false for Annex-B
	AudioEnabled     bool   `yaml:"audio_enabled,omitempty"`
	AudioSampleRate  int    `yaml:"audio_sample_rate,omitempty"`
	AudioChannels    int    `yaml:"audio_channels,omitempty"`
	TargetBufferMs   int    `yaml:"target_buffer_ms,omitempty"`
	ConnectTimeoutMs int    `yaml:"connect_timeout_ms,omitempty"`
	Debug            bool   `yaml:"debug,omitempty"`
}

func defaultOptions() SessionOptions {
	return SessionOptions{
		ServerPath:       "scrcpy-server.jar",
		DeviceServerPath: "/data/local/tmp/scrcpy-server.jar",
		Port:             27183,
		MaxSize:          1920,
		BitrateBps:       8_000_000,
		MaxFPS:           60,
		VideoCodec:       "h264",
		AudioSampleRate:  48000,
		AudioChannels:    2,
		TargetBufferMs:   60,
		ConnectTimeoutMs: 10000,
	}
}

func loadOptions(path string) (SessionOptions, error) {
	opts := defaultOptions()
	b, err := os.ReadFile(path)
	if err != nil {
		return opts, err
	}
	if err := yaml.Unmarshal(b, &opts); err != nil {
		return opts, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return opts, nil
}

// saveDefaultOptions writes out opts so the user has a starting point to
// edit, mirroring the create-on-first-run config behavior in src/config.go.
func saveDefaultOptions(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := yaml.NewEncoder(f)
	defer enc.Close()
	opts := defaultOptions()
	return enc.Encode(&opts)
}

func (o SessionOptions) connectionMode() transport.Mode {
	if o.Forward {
		return transport.Forward
	}
	return transport.Reverse
}

func (o SessionOptions) codec() videostream.Codec {
	if o.VideoCodec == "h265" {
		return videostream.H265
	}
	return videostream.H264
}

func (o SessionOptions) framing() videostream.FramingMode {
	if o.VideoMetaFraming {
		return videostream.MetadataFraming
	}
	return videostream.AnnexB
}

// defaultConfigPath returns ~/.config/scrcpymirror/settings.yml, the same
// directory shape Environment.settingsFile resolves in src/config.go.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", appName+".yml")
	}
	return filepath.Join(home, ".config", appName, "settings.yml")
}

// setupLogging mirrors initlog (src/config.go): always log to a per-user
// debug.log, and additionally to stdout when debug is requested.
func setupLogging(debug bool) (*os.File, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		log.SetOutput(os.Stdout)
		return nil, nil
	}
	dir := filepath.Join(home, ".config", appName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.SetOutput(os.Stdout)
		return nil, nil
	}
	f, err := os.OpenFile(filepath.Join(dir, "debug.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o666)
	if err != nil {
		log.SetOutput(os.Stdout)
		return nil, nil
	}
	if debug {
		log.SetOutput(io.MultiWriter(f, os.Stdout))
	} else {
		log.SetOutput(f)
	}
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	return f, nil
}
