package mdc

import (
	"fmt"
	"sort"
	"strings"
)

// Source is an MDC input source code.
type Source byte

const (
	SourceUnknown  Source = 0x00
	SourceSVideo   Source = 0x04
	SourceComp     Source = 0x08
	SourceAV       Source = 0x0C
	SourcePC       Source = 0x14
	SourceDVI      Source = 0x18
	SourceDVIVideo Source = 0x1F
	SourceMagicNet Source = 0x20
	SourceHDMI1    Source = 0x21
	SourceHDMI1PC  Source = 0x22
	SourceHDMI2    Source = 0x23
	SourceHDMI2PC  Source = 0x24
	SourceDP       Source = 0x25
	SourceDP2      Source = 0x26
	SourceDP3      Source = 0x27
	SourceTV       Source = 0x30
	SourceDTV      Source = 0x40
)

var sourceNames = map[Source]string{
	SourceUnknown:  "UNKNOWN",
	SourcePC:       "PC",
	SourceDVI:      "DVI",
	SourceDVIVideo: "DVI_VIDEO",
	SourceAV:       "AV",
	SourceSVideo:   "SVIDEO",
	SourceComp:     "COMPONENT",
	SourceMagicNet: "MAGICNET",
	SourceTV:       "TV",
	SourceDTV:      "DTV",
	SourceHDMI1:    "HDMI1",
	SourceHDMI1PC:  "HDMI1_PC",
	SourceHDMI2:    "HDMI2",
	SourceHDMI2PC:  "HDMI2_PC",
	SourceDP:       "DP",
	SourceDP2:      "DP2",
	SourceDP3:      "DP3",
}

var sourcesByName = func() map[string]Source {
	m := make(map[string]Source, len(sourceNames))
	for s, n := range sourceNames {
		m[n] = s
	}
	return m
}()

// String returns the source name, or a hex code for unlisted values.
func (s Source) String() string {
	if n, ok := sourceNames[s]; ok {
		return n
	}
	return fmt.Sprintf("0x%02X", byte(s))
}

// ParseSource looks up a source by name (case-insensitive).
func ParseSource(name string) (Source, bool) {
	s, ok := sourcesByName[strings.ToUpper(strings.TrimSpace(name))]
	return s, ok
}

// SourceNames returns every known source name, sorted.
func SourceNames() []string {
	names := make([]string, 0, len(sourcesByName))
	for n := range sourcesByName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
