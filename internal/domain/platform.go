package domain

import (
	"fmt"
	"strings"
)

// Platform identifies a social network a creator can connect.
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformYouTube   Platform = "youtube"
)

// Platforms is the order in which the master job walks the providers.
var Platforms = []Platform{PlatformInstagram, PlatformTikTok, PlatformYouTube}

func (p Platform) String() string { return string(p) }

func (p Platform) Valid() bool {
	switch p {
	case PlatformInstagram, PlatformTikTok, PlatformYouTube:
		return true
	default:
		return false
	}
}

// ParsePlatform accepts any casing ("YouTube", "TIKTOK").
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, s)
	}
	return p, nil
}
