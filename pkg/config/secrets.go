// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// keyringService namespaces warp's entries in the OS keyring.
const keyringService = "warp"

// Secret resolves a named credential. The environment wins over the
// keyring so containers and CI work without one: anthropic_api_key is
// checked as WARP_ANTHROPIC_API_KEY first. Returns "" when unset.
func Secret(name string) string {
	env := "WARP_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	if v := os.Getenv(env); v != "" {
		return v
	}
	if v, err := keyring.Get(keyringService, name); err == nil {
		return v
	}
	return ""
}

// SetSecret stores a credential in the OS keyring.
func SetSecret(name, value string) error {
	if err := keyring.Set(keyringService, name, value); err != nil {
		return fmt.Errorf("store secret %s: %w", name, err)
	}
	return nil
}

// GetSecret reads a credential from the OS keyring only, bypassing the
// environment. Used by `warp config get-secret` to inspect the store.
func GetSecret(name string) (string, error) {
	v, err := keyring.Get(keyringService, name)
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", name, err)
	}
	return v, nil
}

// DeleteSecret removes a credential from the OS keyring.
func DeleteSecret(name string) error {
	if err := keyring.Delete(keyringService, name); err != nil {
		return fmt.Errorf("delete secret %s: %w", name, err)
	}
	return nil
}
