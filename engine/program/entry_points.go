package program

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// computeEntryRegex matches @compute functions, capturing the attributes before fn and the entry point name
	computeEntryRegex = regexp.MustCompile(`(?s)@compute\b(.*?)\bfn\s+(\w+)`)

	// workgroupSizeRegex captures 1-3 integer dimensions from @workgroup_size(x[, y[, z]])
	workgroupSizeRegex = regexp.MustCompile(`@workgroup_size\(\s*(\d+)\s*(?:,\s*(\d+)\s*(?:,\s*(\d+)\s*)?)?\)`)
)

// EntryPoint is a @compute function found in WGSL source.
type EntryPoint struct {
	Name string
	// WorkgroupSize is the declared size, with unspecified or non-literal dimensions set to 1.
	WorkgroupSize [3]uint32
}

// ComputeEntryPoints scans WGSL source for @compute entry points, ignoring commented-out code.
//
// Parameters:
//   - source: raw WGSL source
//
// Returns:
//   - map[string]EntryPoint: entry points keyed by function name
func ComputeEntryPoints(source string) map[string]EntryPoint {
	cleaned := stripComments(source)
	out := map[string]EntryPoint{}
	for _, match := range computeEntryRegex.FindAllStringSubmatch(cleaned, -1) {
		ep := EntryPoint{Name: match[2], WorkgroupSize: [3]uint32{1, 1, 1}}
		if wg := workgroupSizeRegex.FindStringSubmatch(match[1]); wg != nil {
			for i := 0; i < 3; i++ {
				if wg[i+1] == "" {
					continue
				}
				if v, err := strconv.ParseUint(wg[i+1], 10, 32); err == nil && v > 0 {
					ep.WorkgroupSize[i] = uint32(v)
				}
			}
		}
		out[ep.Name] = ep
	}
	return out
}

func stripComments(source string) string {
	return stripLineComments(stripBlockComments(source))
}

func stripLineComments(source string) string {
	var sb strings.Builder
	sb.Grow(len(source))
	for line := range strings.SplitSeq(source, "\n") {
		if idx := strings.Index(line, "//"); idx >= 0 {
			line = line[:idx]
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// stripBlockComments removes /* */ comments, which nest in WGSL.
func stripBlockComments(source string) string {
	var sb strings.Builder
	sb.Grow(len(source))
	depth := 0
	for i := 0; i < len(source); i++ {
		if i+1 < len(source) {
			switch {
			case source[i] == '/' && source[i+1] == '*':
				depth++
				i++
				continue
			case source[i] == '*' && source[i+1] == '/' && depth > 0:
				depth--
				i++
				continue
			}
		}
		if depth == 0 {
			sb.WriteByte(source[i])
		}
	}
	return sb.String()
}
