package util

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// VLAN id bounds accepted on an access or voice port.
const (
	MinVLANID = 1
	MaxVLANID = 4094
)

// ValidateVLANID checks that id is a usable 802.1Q VLAN.
func ValidateVLANID(id int) error {
	if id < MinVLANID || id > MaxVLANID {
		return fmt.Errorf("vlan %d out of range %d-%d", id, MinVLANID, MaxVLANID)
	}
	return nil
}

// ParseVLANID parses a decimal VLAN id and validates it.
func ParseVLANID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid vlan %q", s)
	}
	if err := ValidateVLANID(id); err != nil {
		return 0, err
	}
	return id, nil
}

// VLANSet is a sorted, deduplicated set of VLAN ids.
type VLANSet []int

// ParseVLANSet expands Cisco range notation ("10,20-25,300") into a set.
// Every id is validated.
func ParseVLANSet(spec string) (VLANSet, error) {
	var out []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi := part, part
		if i := strings.Index(part, "-"); i >= 0 {
			lo, hi = part[:i], part[i+1:]
		}
		start, err := ParseVLANID(lo)
		if err != nil {
			return nil, err
		}
		end, err := ParseVLANID(hi)
		if err != nil {
			return nil, err
		}
		if start > end {
			return nil, fmt.Errorf("vlan range %s: start greater than end", part)
		}
		for v := start; v <= end; v++ {
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return VLANSet(dedupInts(out)), nil
}

// Contains reports whether id is in the set.
func (s VLANSet) Contains(id int) bool {
	i := sort.SearchInts(s, id)
	return i < len(s) && s[i] == id
}

// String renders the set in compact range notation.
func (s VLANSet) String() string {
	if len(s) == 0 {
		return ""
	}
	var parts []string
	start, end := s[0], s[0]
	for _, v := range s[1:] {
		if v == end+1 {
			end = v
			continue
		}
		parts = append(parts, formatRange(start, end))
		start, end = v, v
	}
	parts = append(parts, formatRange(start, end))
	return strings.Join(parts, ",")
}

func formatRange(start, end int) string {
	if start == end {
		return strconv.Itoa(start)
	}
	return fmt.Sprintf("%d-%d", start, end)
}

func dedupInts(sorted []int) []int {
	if len(sorted) == 0 {
		return sorted
	}
	result := []int{sorted[0]}
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			result = append(result, sorted[i])
		}
	}
	return result
}
