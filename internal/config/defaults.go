package config

import "time"

// Default returns a configuration usable for local development. Secrets are
// empty and must come from the file or environment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      ":8080",
			PublicURL: "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "paygate.db?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on",
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Telegram: TelegramConfig{
			APIURL:     "https://api.telegram.org",
			InviteLink: "https://t.me/+invite",
		},
		PayPal: PayPalConfig{
			Mode:    "sandbox",
			Timeout: 20 * time.Second,
		},
		Payments: PaymentsConfig{
			SessionTTL:    30 * time.Minute,
			SweepInterval: time.Minute,
			Methods:       defaultMethods(),
		},
	}
}

// The PayPal charge is quoted in USD at the same figure the crypto methods
// ask for in USD-equivalent; no live conversion is performed.
func defaultMethods() []MethodConfig {
	return []MethodConfig{
		{
			Key: "paypal", Name: "PayPal", Settlement: "automated",
			Amount: "10.00", Currency: "USD", Provider: "paypal",
		},
		{
			Key: "bitcoin", Name: "Bitcoin", Settlement: "manual",
			Amount: "10.00", Currency: "USD",
			Kind: "wallet", Scheme: "bitcoin", Network: "Bitcoin",
			Address:       "bc1qexampleexampleexampleexampleexample0",
			ProofRequired: true,
		},
		{
			Key: "ton", Name: "TON", Settlement: "manual",
			Amount: "10.00", Currency: "USD",
			Kind: "wallet", Scheme: "ton", Network: "TON",
			Address:       "UQexampleexampleexampleexampleexampleexampleexam",
			ProofRequired: true,
		},
		{
			Key: "bank_transfer", Name: "Bank Transfer", Settlement: "manual",
			Amount: "100.00", Currency: "INR",
			Kind: "bank", BankName: "Example Bank", AccountName: "Example Account",
			AccountNumber: "000000000000", IFSC: "EXMP0000000",
			ProofRequired: true,
		},
		{
			Key: "upi", Name: "UPI", Settlement: "manual",
			Amount: "100.00", Currency: "INR",
			Kind: "upi", Address: "example@upi", Payee: "Group Access",
			ProofRequired: true,
		},
	}
}
