package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/hubenschmidt/preboard/internal/config"
)

var configEnvVars = []string{
	"PREBOARD_CONFIG",
	"PREBOARD_PORT",
	"PREBOARD_TURN_TIMEOUT",
	"PREBOARD_ORACLE_BACKEND",
	"PREBOARD_ORACLE_URL",
	"PREBOARD_MAX_CONCURRENT_SESSIONS",
	"PREBOARD_TTS_SPEED",
	"PREBOARD_AIRTABLE_TOKEN",
	"AIRTABLE_TOKEN",
}

func clearConfigEnvVars() {
	for _, k := range configEnvVars {
		_ = os.Unsetenv(k)
	}
}

func writeTempConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "preboard.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then the defaults are applied", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Port, convey.ShouldEqual, "8000")
				convey.So(cfg.ConnectTimeout, convey.ShouldEqual, 5*time.Second)
				convey.So(cfg.TurnTimeout, convey.ShouldEqual, 8*time.Second)
				convey.So(cfg.OracleBackend, convey.ShouldEqual, "openai")
				convey.So(cfg.RealtimeModel, convey.ShouldEqual, "gpt-4o-realtime-preview-2024-10-01")
				convey.So(cfg.MaxUploadMB, convey.ShouldEqual, 10)
				convey.So(cfg.TTSSpeed, convey.ShouldEqual, 1.0)
			})
		})

		convey.Convey("When env vars are set", func() {
			_ = os.Setenv("PREBOARD_PORT", "9090")
			_ = os.Setenv("PREBOARD_TURN_TIMEOUT", "3s")
			_ = os.Setenv("PREBOARD_MAX_CONCURRENT_SESSIONS", "12")

			cfg, err := config.Load(ctx)

			convey.Convey("Then they override the defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Port, convey.ShouldEqual, "9090")
				convey.So(cfg.TurnTimeout, convey.ShouldEqual, 3*time.Second)
				convey.So(cfg.MaxConcurrentSessions, convey.ShouldEqual, 12)
			})
		})

		convey.Convey("When a YAML file is provided", func() {
			path := writeTempConfig(t, "port: \"7070\"\noracle_backend: http\noracle_url: http://oracle.local/verify\n")
			_ = os.Setenv("PREBOARD_CONFIG", path)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it is loaded", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Port, convey.ShouldEqual, "7070")
				convey.So(cfg.OracleBackend, convey.ShouldEqual, "http")
				convey.So(cfg.OracleURL, convey.ShouldEqual, "http://oracle.local/verify")
			})

			convey.Convey("And env vars take precedence over the file", func() {
				_ = os.Setenv("PREBOARD_PORT", "6060")

				cfg, err := config.Load(ctx)

				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Port, convey.ShouldEqual, "6060")
			})
		})

		convey.Convey("When a conventional provider variable is set", func() {
			_ = os.Setenv("AIRTABLE_TOKEN", "pat-conventional")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it fills the empty field", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.AirtableToken, convey.ShouldEqual, "pat-conventional")
			})

			convey.Convey("And the prefixed variable still wins", func() {
				_ = os.Setenv("PREBOARD_AIRTABLE_TOKEN", "pat-prefixed")

				cfg, err := config.Load(ctx)

				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.AirtableToken, convey.ShouldEqual, "pat-prefixed")
			})
		})

		convey.Convey("When the http oracle has no URL", func() {
			_ = os.Setenv("PREBOARD_ORACLE_BACKEND", "http")

			cfg, err := config.Load(ctx)

			convey.Convey("Then validation fails", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(err, convey.ShouldWrap, config.ErrInvalidConfig)
			})
		})

		convey.Convey("When the fallback speech speed is out of range", func() {
			_ = os.Setenv("PREBOARD_TTS_SPEED", "6")

			_, err := config.Load(ctx)

			convey.Convey("Then validation fails", func() {
				convey.So(err, convey.ShouldWrap, config.ErrInvalidConfig)
			})
		})

		convey.Convey("When the config file does not exist", func() {
			_ = os.Setenv("PREBOARD_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

			_, err := config.Load(ctx)

			convey.Convey("Then loading fails", func() {
				convey.So(err, convey.ShouldWrap, config.ErrLoadConfig)
			})
		})
	})
}
