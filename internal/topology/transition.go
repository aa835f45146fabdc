package topology

import (
	"fmt"
	"strings"
)

// ServiceSuffix is the canonical suffix every place-backed service name
// carries. Stripping it recovers the topology node name; this mapping is
// bit-exact and must hold for every place.
const ServiceSuffix = "_Place"

// Transition id prefixes. Node N yields transitions "T_in_N" and "T_out_N".
const (
	inPrefix  = "T_in_"
	outPrefix = "T_out_"
)

// NodeNameFromService strips the "_Place" suffix from a service name.
// A service name without the suffix is a configuration error; callers log
// it but must not crash the engine.
func NodeNameFromService(service string) (string, error) {
	name, ok := strings.CutSuffix(service, ServiceSuffix)
	if !ok || name == "" {
		return "", fmt.Errorf("service name %q does not end in %q", service, ServiceSuffix)
	}
	return name, nil
}

// ServiceNameFor returns the canonical service name for a node.
func ServiceNameFor(node string) string {
	return node + ServiceSuffix
}

// DeriveTransitions returns the input and output transition ids of a node.
func DeriveTransitions(node string) (in, out string) {
	return inPrefix + node, outPrefix + node
}
