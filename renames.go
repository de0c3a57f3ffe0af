package wizer

import (
	"fmt"
	"strings"
)

// funcRenames is the parsed form of the "dst=src" rename specifications:
// each source maps to exactly one destination, and each destination appears
// exactly once. Pre-existing exports under a destination name are displaced.
type funcRenames struct {
	srcToDst map[string]string
	dsts     map[string]struct{}
}

func parseFuncRenames(renames []string) (*funcRenames, error) {
	ret := &funcRenames{
		srcToDst: map[string]string{},
		dsts:     map[string]struct{}{},
	}
	for _, spec := range renames {
		spec = strings.TrimSpace(spec)
		eq := strings.IndexByte(spec, '=')
		if eq < 0 {
			return nil, fmt.Errorf("%w: invalid function rename part: %s", ErrMalformedRename, spec)
		}
		dst, src := spec[:eq], spec[eq+1:]
		if _, ok := ret.dsts[dst]; ok {
			return nil, fmt.Errorf("%w: duplicated function rename dst %s", ErrDuplicateRename, dst)
		}
		if _, ok := ret.srcToDst[src]; ok {
			return nil, fmt.Errorf("%w: duplicated function rename src %s", ErrDuplicateRename, src)
		}
		ret.dsts[dst] = struct{}{}
		ret.srcToDst[src] = dst
	}
	return ret, nil
}
