package messaging

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// DeliveryConfig holds the WhatsApp Cloud API account the Delivery Client
// posts to. It is loaded once at startup and never modified.
type DeliveryConfig struct {
	BusinessID         string `json:"business_id"`
	WhatsAppBusinessID string `json:"whatsapp_business_id"`
	PhoneNumberID      string `json:"phone_number_id"`
	AccessToken        string `json:"access_token"`
	Version            string `json:"version"`
	APIURL             string `json:"api_url"`
}

// URL is the messages endpoint: <api_url>/<version>/<phone_number_id>/messages.
func (c DeliveryConfig) URL() string {
	return fmt.Sprintf("%s/%s/%s/messages", strings.TrimRight(c.APIURL, "/"), c.Version, c.PhoneNumberID)
}

func (c DeliveryConfig) Validate() error {
	var missing []string
	for _, f := range []struct{ key, value string }{
		{"business_id", c.BusinessID},
		{"whatsapp_business_id", c.WhatsAppBusinessID},
		{"phone_number_id", c.PhoneNumberID},
		{"access_token", c.AccessToken},
		{"version", c.Version},
		{"api_url", c.APIURL},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("delivery config missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// LoadDeliveryConfig reads a JSON delivery config file. Unknown or missing
// keys are rejected.
func LoadDeliveryConfig(path string) (DeliveryConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return DeliveryConfig{}, fmt.Errorf("read delivery config: %w", err)
	}
	return ParseDeliveryConfig(bytes.NewReader(raw))
}

func ParseDeliveryConfig(r io.Reader) (DeliveryConfig, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var cfg DeliveryConfig
	if err := dec.Decode(&cfg); err != nil {
		return DeliveryConfig{}, fmt.Errorf("decode delivery config: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return DeliveryConfig{}, errors.New("decode delivery config: trailing data after object")
	}
	if err := cfg.Validate(); err != nil {
		return DeliveryConfig{}, err
	}
	return cfg, nil
}
