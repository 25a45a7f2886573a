package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// 配置文件中的时长均以字符串书写（如 "10s"、"168h"）。

func parseDuration(field, raw string, dst *time.Duration) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s format: %w", field, err)
	}
	*dst = d
	return nil
}

// UnmarshalJSON 自定义 JSON 解析，支持时间Duration字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		ShutdownTimeout string `json:"shutdown_timeout"`
		*Alias
	}{Alias: (*Alias)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	return parseDuration("shutdown_timeout", aux.ShutdownTimeout, &a.ShutdownTimeout)
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		ShutdownTimeout string `json:"shutdown_timeout"`
		*Alias
	}{
		ShutdownTimeout: a.ShutdownTimeout.String(),
		Alias:           (*Alias)(&a),
	})
}

func (d *DatabaseConfig) UnmarshalJSON(data []byte) error {
	type Alias DatabaseConfig
	aux := &struct {
		ConnMaxLifetime string `json:"conn_max_lifetime"`
		*Alias
	}{Alias: (*Alias)(d)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	return parseDuration("conn_max_lifetime", aux.ConnMaxLifetime, &d.ConnMaxLifetime)
}

func (d DatabaseConfig) MarshalJSON() ([]byte, error) {
	type Alias DatabaseConfig
	return json.Marshal(&struct {
		ConnMaxLifetime string `json:"conn_max_lifetime"`
		*Alias
	}{
		ConnMaxLifetime: d.ConnMaxLifetime.String(),
		Alias:           (*Alias)(&d),
	})
}

func (s *SecurityConfig) UnmarshalJSON(data []byte) error {
	type Alias SecurityConfig
	aux := &struct {
		TokenTTL string `json:"token_ttl"`
		*Alias
	}{Alias: (*Alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	return parseDuration("token_ttl", aux.TokenTTL, &s.TokenTTL)
}

func (s SecurityConfig) MarshalJSON() ([]byte, error) {
	type Alias SecurityConfig
	return json.Marshal(&struct {
		TokenTTL string `json:"token_ttl"`
		*Alias
	}{
		TokenTTL: s.TokenTTL.String(),
		Alias:    (*Alias)(&s),
	})
}

func (d *DispatchConfig) UnmarshalJSON(data []byte) error {
	type Alias DispatchConfig
	aux := &struct {
		Interval       string `json:"interval"`
		ChannelTimeout string `json:"channel_timeout"`
		ReceiptTTL     string `json:"receipt_ttl"`
		*Alias
	}{Alias: (*Alias)(d)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if err := parseDuration("interval", aux.Interval, &d.Interval); err != nil {
		return err
	}
	if err := parseDuration("channel_timeout", aux.ChannelTimeout, &d.ChannelTimeout); err != nil {
		return err
	}
	return parseDuration("receipt_ttl", aux.ReceiptTTL, &d.ReceiptTTL)
}

func (d DispatchConfig) MarshalJSON() ([]byte, error) {
	type Alias DispatchConfig
	return json.Marshal(&struct {
		Interval       string `json:"interval"`
		ChannelTimeout string `json:"channel_timeout"`
		ReceiptTTL     string `json:"receipt_ttl"`
		*Alias
	}{
		Interval:       d.Interval.String(),
		ChannelTimeout: d.ChannelTimeout.String(),
		ReceiptTTL:     d.ReceiptTTL.String(),
		Alias:          (*Alias)(&d),
	})
}

func (n *NotifyConfig) UnmarshalJSON(data []byte) error {
	type Alias NotifyConfig
	aux := &struct {
		ChatRelayTimeout string `json:"chat_relay_timeout"`
		*Alias
	}{Alias: (*Alias)(n)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	return parseDuration("chat_relay_timeout", aux.ChatRelayTimeout, &n.ChatRelayTimeout)
}

func (n NotifyConfig) MarshalJSON() ([]byte, error) {
	type Alias NotifyConfig
	return json.Marshal(&struct {
		ChatRelayTimeout string `json:"chat_relay_timeout"`
		*Alias
	}{
		ChatRelayTimeout: n.ChatRelayTimeout.String(),
		Alias:            (*Alias)(&n),
	})
}
