// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package i18n

import "testing"

func TestInitFallsBackToEnglish(t *testing.T) {
	Init("xx")
	if got := GetLang(); got != "en" {
		t.Fatalf("expected fallback to en, got %q", got)
	}
}

func TestAvailableLocales(t *testing.T) {
	Init("en")
	av := GetAvailableLocales()
	for _, code := range []string{"en", "de"} {
		if _, ok := av[code]; !ok {
			t.Fatalf("locale %s not embedded: %v", code, av)
		}
	}
	codes := LocaleCodes()
	if len(codes) < 2 || codes[0] != "de" {
		t.Fatalf("expected sorted codes, got %v", codes)
	}
}

func TestTFormatsArguments(t *testing.T) {
	Init("en")
	got := T("consent.relay_auth", "wss://relay.example")
	if got != "Authenticate to relay wss://relay.example" {
		t.Fatalf("unexpected translation: %q", got)
	}
	SetLang("de")
	defer Init("en")
	if got := T("kind.unknown", 31337); got != "Event-Art 31337" {
		t.Fatalf("unexpected german translation: %q", got)
	}
}

func TestTUnknownID(t *testing.T) {
	Init("en")
	if got := T("no.such.message"); got != "no.such.message" {
		t.Fatalf("expected id echo, got %q", got)
	}
	if Has("no.such.message") || !Has("consent.remember") {
		t.Fatalf("Has reported wrong availability")
	}
}
