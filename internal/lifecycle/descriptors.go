package lifecycle

import "sort"

// CollectDescriptors extracts service descriptors, skipping entries that
// don't advertise one, sorted by layer then name for deterministic output.
func CollectDescriptors(providers []DescriptorProvider) []Descriptor {
	var out []Descriptor
	for _, p := range providers {
		if p == nil {
			continue
		}
		out = append(out, p.Descriptor())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Layer == out[j].Layer {
			return out[i].Name < out[j].Name
		}
		return out[i].Layer < out[j].Layer
	})
	return out
}
