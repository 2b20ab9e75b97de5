// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"

	"github.com/awnumar/memguard"
)

// Secrets holds credential material wrapped in memguard enclaves so it
// never lands in a core dump or gets paged to swap in plaintext.
type Secrets struct {
	LLMAPIKey         *memguard.Enclave
	SlackWebhookURL   *memguard.Enclave
	AWSAccessKeyID    *memguard.Enclave
	AWSSecretAccessKey *memguard.Enclave
}

// envFallback reads the first set environment variable from names, in
// order, matching the teacher's env-var-with-fallback convention.
func envFallback(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// LoadSecrets reads credential material from environment variables and
// seals each into its own memguard enclave.
func LoadSecrets() (*Secrets, error) {
	llmKey := envFallback("DCSENTINEL_LLM_API_KEY", "OPENAI_API_KEY", "AZURE_OPENAI_API_KEY")
	if llmKey == "" {
		return nil, fmt.Errorf("no LLM API key found in DCSENTINEL_LLM_API_KEY, OPENAI_API_KEY, or AZURE_OPENAI_API_KEY")
	}

	return &Secrets{
		LLMAPIKey:          memguard.NewEnclave([]byte(llmKey)),
		SlackWebhookURL:    memguard.NewEnclave([]byte(envFallback("DCSENTINEL_SLACK_WEBHOOK_URL", "SLACK_WEBHOOK_URL"))),
		AWSAccessKeyID:     memguard.NewEnclave([]byte(envFallback("AWS_ACCESS_KEY_ID"))),
		AWSSecretAccessKey: memguard.NewEnclave([]byte(envFallback("AWS_SECRET_ACCESS_KEY"))),
	}, nil
}

// Open decrypts an enclave into a locked buffer the caller must destroy
// with buf.Destroy() once the secret is no longer needed.
func Open(enclave *memguard.Enclave) (*memguard.LockedBuffer, error) {
	buf, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("open secret enclave: %w", err)
	}
	return buf, nil
}
