package config

const (
	// Withdrawal circuit artifacts for github.com/veilpay/circuits
	WithdrawCircuitURL          = "https://artifacts.veilpay.io/circuits/v1/withdraw.wasm"
	WithdrawCircuitHash         = "8a7f4c9f0c3d9b0e5a1f2f6d8b24e7a93c5d011f6b8b26d4f1a90c73e5b8a2d1"
	WithdrawProvingKeyURL       = "https://artifacts.veilpay.io/circuits/v1/withdraw_pkey.zkey"
	WithdrawProvingKeyHash      = "2d4b8e1a7c5f9d3b6a0e8c2f4d7b9a1e3c5f7d9b1a3e5c7f9d1b3a5e7c9f1d3b"
	WithdrawVerificationKeyURL  = "https://artifacts.veilpay.io/circuits/v1/withdraw_vkey.json"
	WithdrawVerificationKeyHash = "6c1e9a3f5d7b2c4e8a0f6d2b4c8e0a2f6d8b0c4e2a6f8d0b2c6e4a8f0d2b6c4e"
)
