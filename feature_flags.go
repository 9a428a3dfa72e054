package main

import "os"

type FeatureFlags struct {
	BossFights bool
	Purchases  bool
	Telemetry  bool
}

var featureFlags = loadFeatureFlags()

func loadFeatureFlags() FeatureFlags {
	return FeatureFlags{
		BossFights: envFlag("ENABLE_BOSS_FIGHTS", true),
		Purchases:  envFlag("ENABLE_PURCHASES", true),
		Telemetry:  envFlag("ENABLE_TELEMETRY", true),
	}
}

func envFlag(name string, fallback bool) bool {
	val := os.Getenv(name)
	if val == "" {
		return fallback
	}
	return val == "true" || val == "1" || val == "yes"
}
