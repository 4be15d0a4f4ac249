package config

import (
	"bufio"
	"os"
	"strings"
)

// LoadEnv loads environment variables from .env file if it exists
func LoadEnv(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		// .env file is optional
		return nil
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Only set if not already set in environment
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}

	return scanner.Err()
}

// GetString returns an environment variable or def if unset/empty.
func GetString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetSolanaRPCWS returns the upstream account-subscription websocket URL.
func GetSolanaRPCWS() string {
	return GetString("SOLANA_RPC_WS", "wss://api.mainnet-beta.solana.com")
}

// GetSolanaRPCURL returns the upstream HTTP RPC endpoint used for the
// Raydium AMM vault balance fetch.
func GetSolanaRPCURL() string {
	return GetString("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
}

// GetHost returns the HTTP/websocket bind host.
func GetHost() string {
	return GetString("HOST", "0.0.0.0")
}

// GetRegistryPath returns the path to the tracked-pool descriptor file.
func GetRegistryPath() string {
	return GetString("REGISTRY_PATH", "programs.json")
}

// GetRPCEndpoints returns the comma-separated RPC_ENDPOINTS list, or nil
// if it is unset
func GetRPCEndpoints() []string {
	envEndpoints := os.Getenv("RPC_ENDPOINTS")
	if envEndpoints == "" {
		return nil
	}

	endpoints := strings.Split(envEndpoints, ",")
	result := make([]string, 0, len(endpoints))
	for _, endpoint := range endpoints {
		trimmed := strings.TrimSpace(endpoint)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
