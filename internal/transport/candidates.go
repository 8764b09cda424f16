package transport

import "net"

// NormalizeCandidates rewrites any-address candidates into loopback addresses
// so remote peers receive something reachable: "0.0.0.0:p" becomes
// "127.0.0.1:p" and "[::]:p" becomes "[::1]:p". Entries that do not parse are
// passed through untouched.
func NormalizeCandidates(candidates []string) []string {
	out := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		out = append(out, normalizeCandidate(candidate))
	}
	return out
}

func normalizeCandidate(candidate string) string {
	host, port, err := net.SplitHostPort(candidate)
	if err != nil {
		return candidate
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsUnspecified() {
		return candidate
	}
	if ip.To4() != nil {
		return net.JoinHostPort("127.0.0.1", port)
	}
	return net.JoinHostPort("::1", port)
}
