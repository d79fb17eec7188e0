package pipeline

import (
	"snapmem/pkg/catalog"
	"snapmem/pkg/config"
	"snapmem/pkg/memory"
)

// Test mode takes this many of each media type
const (
	testVideos = 2
	testImages = 2
)

// Select applies the input mode and limit to a catalog. A limit wins over
// test mode.
func Select(in config.InputConfig, entries []memory.Entry) []memory.Entry {
	if in.Limit > 0 {
		return catalog.Limit(entries, in.Limit)
	}
	if in.Mode == config.ModeTest {
		return catalog.SelectTest(entries, testVideos, testImages)
	}
	return entries
}
