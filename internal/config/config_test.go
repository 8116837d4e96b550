package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MuchTitan/go-log-shipper/internal/credentials"
	"github.com/MuchTitan/go-log-shipper/internal/engine"
	"github.com/MuchTitan/go-log-shipper/internal/filter"
	"github.com/MuchTitan/go-log-shipper/internal/output"
	outputcounter "github.com/MuchTitan/go-log-shipper/internal/output/counter"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseYAML = `
InvokeUrl: https://logs.example.com/ingest
Region: eu-west-1
ServiceName: checkout
Description: checkout service logs
LogsPath: %s
LogTimerInterval: 60000
Profile: default
Prefix: prod
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func baseConfig(t *testing.T, logsPath string, extra string) string {
	t.Helper()
	return writeConfig(t, strings.Replace(baseYAML, "%s", logsPath, 1)+extra)
}

func TestLoad_Defaults(t *testing.T) {
	logs := t.TempDir()
	cfg, err := Load(baseConfig(t, logs, ""), Overrides{})
	require.NoError(t, err)

	assert.Equal(t, "https://logs.example.com/ingest", cfg.InvokeUrl)
	assert.Equal(t, []string{".log", ".metrics"}, cfg.Suffixes)
	assert.Equal(t, filepath.Join(logs, "lastToken.json"), cfg.TokenFile)
	assert.Equal(t, Milliseconds(DefaultUploadTimeoutMs), cfg.UploadTimeout)
	assert.Equal(t, int64(5<<20), cfg.MaxChunkBytes)
	assert.Equal(t, "skip", cfg.PermanentFailure)
	require.NotNil(t, cfg.RetentionDays)
	assert.Equal(t, DefaultRetentionDays, *cfg.RetentionDays)
	assert.Equal(t, credentials.DefaultPath(), cfg.CredentialsFile)

	opts := cfg.EngineOptions()
	assert.Equal(t, time.Minute, opts.Interval)
	assert.Equal(t, engine.PolicySkip, opts.PermanentFailure)
	assert.Equal(t, 35*time.Second, opts.ShutdownGrace)
	assert.Equal(t, 30*24*time.Hour, opts.Retention)
}

func TestLoad_JSONConfig(t *testing.T) {
	path := writeConfig(t, `{
    "InvokeUrl": "https://logs.example.com/ingest",
    "Region": "us-east-1",
    "ServiceName": "api",
    "Description": "api logs",
    "LogsPath": "/var/log/api",
    "LogTimerInterval": 1500,
    "Profile": "default",
    "Prefix": "dev",
    "RetentionDays": 0
}`)

	cfg, err := Load(path, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "api", cfg.ServiceName)
	assert.Equal(t, 1500*time.Millisecond, cfg.EngineOptions().Interval)
	assert.Equal(t, time.Duration(0), cfg.EngineOptions().Retention)
}

func TestLoad_PortingAssistantLayout(t *testing.T) {
	path := writeConfig(t, `{
    "PortingAssistantConfiguration": {
        "DataStoreSettings": {
            "HttpsEndpoint": "https://assets.example.com/"
        }
    },
    "PortingAssistantMetrics": {
        "InvokeUrl": "https://metrics.example.com/put-log-data",
        "Region": "us-east-1",
        "ServiceName": "appmodernization-beta",
        "Description": "Porting Assistant telemetry",
        "Prefix": "portingAssistant-ide",
        "LogTimerInterval": "300000"
    }
}`)

	userData := t.TempDir()
	cfg, err := Load(path, Overrides{Profile: "default", UserData: userData})
	require.NoError(t, err)

	assert.Equal(t, "https://metrics.example.com/put-log-data", cfg.InvokeUrl)
	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, "appmodernization-beta", cfg.ServiceName)
	assert.Equal(t, "Porting Assistant telemetry", cfg.Description)
	assert.Equal(t, "portingAssistant-ide", cfg.Prefix)
	assert.Equal(t, 5*time.Minute, cfg.EngineOptions().Interval)
	assert.Equal(t, filepath.Join(userData, "logs"), cfg.LogsPath)
	assert.Equal(t, filepath.Join(userData, "logs", "lastToken.json"), cfg.TokenFile)
}

func TestLoad_TopLevelKeysWinOverPortingAssistantBlock(t *testing.T) {
	content := strings.Replace(baseYAML, "%s", "/var/log", 1) + "PortingAssistantMetrics:\n  InvokeUrl: https://ignored.example.com\n  Region: ignored\n"
	cfg, err := Load(writeConfig(t, content), Overrides{})
	require.NoError(t, err)

	assert.Equal(t, "https://logs.example.com/ingest", cfg.InvokeUrl)
	assert.Equal(t, "eu-west-1", cfg.Region)
}

func TestLoad_QuotedMilliseconds(t *testing.T) {
	content := strings.Replace(baseYAML, "LogTimerInterval: 60000", `LogTimerInterval: "1500"`, 1)
	cfg, err := Load(writeConfig(t, strings.Replace(content, "%s", "/var/log", 1)+"UploadTimeout: \"2000\"\n"), Overrides{})
	require.NoError(t, err)

	opts := cfg.EngineOptions()
	assert.Equal(t, 1500*time.Millisecond, opts.Interval)
	assert.Equal(t, 7*time.Second, opts.ShutdownGrace)
	assert.Equal(t, 2000, cfg.OutputConfig()["UploadTimeout"])

	_, err = Load(writeConfig(t, strings.Replace(content, "%s", "/var/log", 1)+"UploadTimeout: soon\n"), Overrides{})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("SHIPPER_TEST_REGION", "ap-south-1")
	content := strings.Replace(baseYAML, "%s", t.TempDir(), 1)
	content = strings.Replace(content, "Description: checkout service logs", "Description: ${SHIPPER_TEST_REGION} logs", 1)
	cfg, err := Load(writeConfig(t, content), Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "ap-south-1 logs", cfg.Description)
}

func TestLoad_Overrides(t *testing.T) {
	userData := t.TempDir()
	cfg, err := Load(baseConfig(t, "/ignored", ""), Overrides{Profile: "staging", UserData: userData})
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Profile)
	assert.Equal(t, filepath.Join(userData, "logs"), cfg.LogsPath)
	assert.Equal(t, filepath.Join(userData, "logs", "lastToken.json"), cfg.TokenFile)
}

func TestLoad_MissingRequiredKeys(t *testing.T) {
	tests := []struct {
		name   string
		drop   string
		wantIn string
	}{
		{"invoke url", "InvokeUrl", "missing InvokeUrl"},
		{"region", "Region", "missing Region"},
		{"service name", "ServiceName", "missing ServiceName"},
		{"description", "Description", "missing Description"},
		{"logs path", "LogsPath", "missing LogsPath"},
		{"interval", "LogTimerInterval", "LogTimerInterval"},
		{"profile", "Profile", "missing Profile"},
		{"prefix", "Prefix", "missing Prefix"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var kept []string
			for _, line := range strings.Split(strings.Replace(baseYAML, "%s", "/var/log", 1), "\n") {
				if !strings.HasPrefix(line, tt.drop+":") {
					kept = append(kept, line)
				}
			}

			_, err := Load(writeConfig(t, strings.Join(kept, "\n")), Overrides{})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfig)
			assert.Contains(t, err.Error(), tt.wantIn)
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		extra string
	}{
		{"policy", "PermanentFailure: sometimes\n"},
		{"store", "OffsetStore: redis\n"},
		{"retention", "RetentionDays: -1\n"},
		{"timeout", "UploadTimeout: -5\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(baseConfig(t, "/var/log", tt.extra), Overrides{})
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), Overrides{})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = Load(writeConfig(t, "InvokeUrl: [unterminated"), Overrides{})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestGetLogLevel(t *testing.T) {
	tests := map[string]logrus.Level{
		"TRACE":   logrus.TraceLevel,
		"debug":   logrus.DebugLevel,
		"WARNING": logrus.WarnLevel,
		"ERROR":   logrus.ErrorLevel,
		"":        logrus.InfoLevel,
	}

	for level, want := range tests {
		c := SystemConfig{LogLevel: level}
		assert.Equal(t, want, c.GetLogLevel(), level)
	}
}

func TestOutputConfig(t *testing.T) {
	cfg, err := Load(baseConfig(t, "/var/log", "Compress: gzip\nOutput:\n  Type: gelf\n  Region: override\n  Port: 12202\n"), Overrides{})
	require.NoError(t, err)

	out := cfg.OutputConfig()
	assert.Equal(t, "gelf", out["Type"])
	assert.Equal(t, "override", out["Region"])
	assert.Equal(t, "checkout", out["ServiceName"])
	assert.Equal(t, "gzip", out["Compress"])
	assert.Equal(t, 12202, out["Port"])
	assert.Equal(t, DefaultUploadTimeoutMs, out["UploadTimeout"])

	cfg.Output = nil
	assert.Equal(t, "http", cfg.OutputConfig()["Type"])
}

func TestNewUploader(t *testing.T) {
	credsPath := filepath.Join(t.TempDir(), "credentials.yaml")
	require.NoError(t, os.WriteFile(credsPath, []byte(`
profiles:
  default:
    accessKeyId: AKIDEXAMPLE
    secretAccessKey: secret
`), 0o644))
	t.Setenv(credentials.EnvAccessKeyID, "")
	t.Setenv(credentials.EnvSecretAccessKey, "")

	t.Run("http", func(t *testing.T) {
		cfg, err := Load(baseConfig(t, "/var/log", "CredentialsFile: "+credsPath+"\n"), Overrides{})
		require.NoError(t, err)

		uploader, err := NewUploader(cfg)
		require.NoError(t, err)
		defer uploader.Close()

		httpOut, ok := uploader.(*output.HTTP)
		require.True(t, ok)
		assert.Equal(t, "AKIDEXAMPLE", httpOut.Credentials.AccessKeyID)
	})

	t.Run("missing profile", func(t *testing.T) {
		cfg, err := Load(baseConfig(t, "/var/log", "CredentialsFile: "+credsPath+"\n"), Overrides{Profile: "nope"})
		require.NoError(t, err)

		_, err = NewUploader(cfg)
		assert.ErrorIs(t, err, ErrConfig)
		assert.ErrorIs(t, err, credentials.ErrProfileNotFound)
	})

	t.Run("counter", func(t *testing.T) {
		cfg, err := Load(baseConfig(t, "/var/log", "Output:\n  Type: counter\n  Quiet: true\n"), Overrides{})
		require.NoError(t, err)

		uploader, err := NewUploader(cfg)
		require.NoError(t, err)
		assert.IsType(t, &outputcounter.Counter{}, uploader)
	})

	t.Run("splunk", func(t *testing.T) {
		cfg, err := Load(baseConfig(t, "/var/log", "Output:\n  Type: splunk\n  Token: hec-token\n"), Overrides{})
		require.NoError(t, err)

		uploader, err := NewUploader(cfg)
		require.NoError(t, err)
		defer uploader.Close()
		assert.Equal(t, "splunk", uploader.Name())
	})

	t.Run("filtered", func(t *testing.T) {
		cfg, err := Load(baseConfig(t, "/var/log", "Output:\n  Type: counter\n  Quiet: true\nFilter:\n  Exclude:\n    - ^DEBUG\n"), Overrides{})
		require.NoError(t, err)

		uploader, err := NewUploader(cfg)
		require.NoError(t, err)
		assert.IsType(t, &filter.Uploader{}, uploader)
		assert.Equal(t, "counter+grep", uploader.Name())
	})

	t.Run("bad filter", func(t *testing.T) {
		cfg, err := Load(baseConfig(t, "/var/log", "Output:\n  Type: counter\nFilter:\n  Op: xor\n"), Overrides{})
		require.NoError(t, err)

		_, err = NewUploader(cfg)
		assert.ErrorIs(t, err, ErrConfig)
	})

	t.Run("unknown type", func(t *testing.T) {
		cfg, err := Load(baseConfig(t, "/var/log", "Output:\n  Type: kafka\n"), Overrides{})
		require.NoError(t, err)

		_, err = NewUploader(cfg)
		assert.ErrorIs(t, err, ErrConfig)
	})

	t.Run("bad sink settings", func(t *testing.T) {
		settings := map[string]string{
			"format":      "Output:\n  Type: stdout\n  Format: xml\n",
			"stdout name": "Output:\n  Type: stdout\n  Name: 7\n",
			"gelf host":   "Output:\n  Type: gelf\n  Host: 7\n",
			"splunk host": "Output:\n  Type: splunk\n  Token: hec-token\n  Host: 7\n",
			"parser type": "Output:\n  Type: gelf\n  Parser:\n    Type: [json]\n",
			"filter name": "Output:\n  Type: counter\nFilter:\n  Name: 7\n",
		}
		for name, extra := range settings {
			t.Run(name, func(t *testing.T) {
				cfg, err := Load(baseConfig(t, "/var/log", extra), Overrides{})
				require.NoError(t, err)

				var uploaderErr error
				require.NotPanics(t, func() { _, uploaderErr = NewUploader(cfg) })
				assert.ErrorIs(t, uploaderErr, ErrConfig)
			})
		}
	})
}

func TestNewShipperEngine_RunOnce(t *testing.T) {
	logs := t.TempDir()
	logFile := filepath.Join(logs, "app.log")
	require.NoError(t, os.WriteFile(logFile, []byte("first\nsecond\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(logs, "notes.txt"), []byte("ignored\n"), 0o644))

	path := baseConfig(t, logs, "OffsetStore: bolt\nOutput:\n  Type: counter\n  Quiet: true\nSystem:\n  logLevel: ERROR\n")
	shipper, err := NewShipperEngine(path, Overrides{})
	require.NoError(t, err)

	require.NoError(t, shipper.RunOnce(context.Background()))

	offset, ok := shipper.Offset(logFile)
	assert.True(t, ok)
	assert.Equal(t, int64(13), offset)
	_, ok = shipper.Offset(filepath.Join(logs, "notes.txt"))
	assert.False(t, ok)

	require.NoError(t, shipper.Stop())
	assert.FileExists(t, filepath.Join(logs, "lastToken.bolt"))
}
