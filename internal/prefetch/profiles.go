package prefetch

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

const manifestParseErrorTemplateConstant = "unable to parse profile manifest: %w"

// FeatureFlags records which installation profiles the caller enabled.
type FeatureFlags map[string]bool

// ProfileManifest maps a feature flag name to the package specs the profile
// needs. Resolution is an explicit map lookup; profile names never build
// identifiers dynamically.
type ProfileManifest map[string][]string

// ParseProfileManifest decodes a yaml profile manifest.
func ParseProfileManifest(manifestContent []byte) (ProfileManifest, error) {
	manifest := ProfileManifest{}
	if unmarshalError := yaml.Unmarshal(manifestContent, &manifest); unmarshalError != nil {
		return nil, fmt.Errorf(manifestParseErrorTemplateConstant, unmarshalError)
	}
	return manifest, nil
}

// PackagesForFlags derives the package list for the enabled flags. The result
// is deduplicated and sorted, so equal inputs always produce equal lists.
// Flags absent from the manifest contribute nothing.
func PackagesForFlags(manifest ProfileManifest, flags FeatureFlags) []string {
	packageSet := make(map[string]struct{})
	for flagName, enabled := range flags {
		if !enabled {
			continue
		}
		for _, packageSpec := range manifest[flagName] {
			if len(packageSpec) == 0 {
				continue
			}
			packageSet[packageSpec] = struct{}{}
		}
	}

	packages := make([]string, 0, len(packageSet))
	for packageSpec := range packageSet {
		packages = append(packages, packageSpec)
	}
	sort.Strings(packages)
	return packages
}
