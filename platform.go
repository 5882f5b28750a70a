package pdfgate

import "regexp"

// Platform describes what the displaying runtime can do.
type Platform struct {
	// NativeEmbed is set when the runtime can show the PDF itself with
	// acceptable performance.
	NativeEmbed bool
	// Constrained marks platforms with limited PDF rendering (iOS). It is
	// sent to the server as the isIOS hint.
	Constrained bool
}

var iosUserAgent = regexp.MustCompile(`iPad|iPhone|iPod`)

// DetectPlatform classifies a browser-like runtime. iPadOS reports itself
// as MacIntel with touch points.
func DetectPlatform(userAgent, platform string, maxTouchPoints int) Platform {
	constrained := iosUserAgent.MatchString(userAgent) ||
		(platform == "MacIntel" && maxTouchPoints > 1)
	return Platform{
		NativeEmbed: !constrained,
		Constrained: constrained,
	}
}
