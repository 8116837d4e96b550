// Package credentials resolves named credential profiles and signs upload requests with them.
package credentials

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrProfileNotFound = errors.New("credential profile not found")

const (
	EnvAccessKeyID     = "LOG_SHIPPER_ACCESS_KEY_ID"
	EnvSecretAccessKey = "LOG_SHIPPER_SECRET_ACCESS_KEY"
	EnvSessionToken    = "LOG_SHIPPER_SESSION_TOKEN"

	HeaderDate         = "X-Shipper-Date"
	HeaderSessionToken = "X-Shipper-Session-Token"
	dateFormat         = "20060102T150405Z"
	algorithm          = "HMAC-SHA256"
)

type Profile struct {
	Name            string `yaml:"-"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	SessionToken    string `yaml:"sessionToken"`
}

type file struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// DefaultPath is $HOME/.log-shipper/credentials.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".log-shipper", "credentials.yaml")
	}
	return filepath.Join(home, ".log-shipper", "credentials.yaml")
}

// Load resolves profile name from the credentials file. A complete key pair in the environment
// wins over the file, which then does not need to exist.
func Load(path, name string) (Profile, error) {
	if id, secret := os.Getenv(EnvAccessKeyID), os.Getenv(EnvSecretAccessKey); id != "" && secret != "" {
		return Profile{
			Name:            name,
			AccessKeyID:     id,
			SecretAccessKey: secret,
			SessionToken:    os.Getenv(EnvSessionToken),
		}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read credentials file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Profile{}, fmt.Errorf("parse credentials file: %w", err)
	}

	p, ok := f.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	if p.AccessKeyID == "" || p.SecretAccessKey == "" {
		return Profile{}, fmt.Errorf("profile %s is missing accessKeyId or secretAccessKey", name)
	}
	p.Name = name
	return p, nil
}

// Sign sets the date and Authorization headers on req for the given body.
func (p Profile) Sign(req *http.Request, body []byte, now time.Time) {
	date := now.UTC().Format(dateFormat)
	req.Header.Set(HeaderDate, date)
	if p.SessionToken != "" {
		req.Header.Set(HeaderSessionToken, p.SessionToken)
	}

	req.Header.Set("Authorization", fmt.Sprintf("%s Credential=%s, Signature=%s",
		algorithm, p.AccessKeyID, p.Signature(req.Method, req.URL.EscapedPath(), date, body)))
}

// Signature is the hex HMAC-SHA256 of the canonical request under the secret key.
func (p Profile) Signature(method, path, date string, body []byte) string {
	bodyHash := sha256.Sum256(body)
	canonical := strings.Join([]string{
		method,
		path,
		date,
		hex.EncodeToString(bodyHash[:]),
	}, "\n")

	mac := hmac.New(sha256.New, []byte(p.SecretAccessKey))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}
