package config

import (
	"io"
	"slices"

	"gopkg.in/yaml.v3"
)

const redactedValue = "******"

func redact(s string) string {
	if s == "" {
		return ""
	}
	return redactedValue
}

// Redacted 返回隐去密码、密钥与 API Key 的副本
func (c *Config) Redacted() *Config {
	out := *c
	out.Database.Password = redact(c.Database.Password)
	out.Redis.Password = redact(c.Redis.Password)
	out.Tokenizer.AnthropicAPIKey = redact(c.Tokenizer.AnthropicAPIKey)
	out.Auth.JWT.Secret = redact(c.Auth.JWT.Secret)
	out.Auth.APIKeys = slices.Clone(c.Auth.APIKeys)
	for i := range out.Auth.APIKeys {
		out.Auth.APIKeys[i] = redactedValue
	}
	return &out
}

// WriteYAML 以配置文件格式输出生效配置，敏感字段已隐去
func (c *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.Redacted()); err != nil {
		return err
	}
	return enc.Close()
}
