package blocklist

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Format identifies a blocklist source's line format.
type Format int

const (
	// FormatAuto detects the format from the first non-comment line.
	FormatAuto Format = iota
	// FormatDomains is a plain list of domains, one per line.
	FormatDomains
	// FormatHosts is the hosts file format ("0.0.0.0 domain").
	FormatHosts
	// FormatAdblock is Adblock Plus format ("||domain^").
	FormatAdblock
)

// Parser parses the blocklist source formats shroudns understands, beyond
// the upstream blocker's plain hosts format.
type Parser struct {
	IgnoreComments bool
	TrimWhitespace bool
	Timeout        int // HTTP fetch timeout in milliseconds, default 60000
}

// NewParser creates a parser with sensible defaults.
func NewParser() *Parser {
	return &Parser{
		IgnoreComments: true,
		TrimWhitespace: true,
		Timeout:        60000,
	}
}

// SetTimeout sets the HTTP fetch timeout in milliseconds.
func (p *Parser) SetTimeout(ms int) {
	p.Timeout = ms
}

// ParseFile parses a blocklist file into an exact-match set and a wildcard
// trie.
func (p *Parser) ParseFile(path string, format Format) (map[string]struct{}, *Trie, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("blocklist: open %s: %w", path, err)
	}
	defer f.Close()
	return p.Parse(f, format)
}

// ParseURL fetches and parses a blocklist from a remote URL.
func (p *Parser) ParseURL(url string, format Format) (map[string]struct{}, *Trie, error) {
	timeout := time.Duration(p.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(url)
	if err != nil {
		return nil, nil, fmt.Errorf("blocklist: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("blocklist: fetch %s: HTTP %s", url, resp.Status)
	}

	return p.Parse(resp.Body, format)
}

// Parse reads lines from r and classifies each into the exact set or the
// wildcard trie depending on the detected or given format.
func (p *Parser) Parse(r io.Reader, format Format) (map[string]struct{}, *Trie, error) {
	exact := make(map[string]struct{})
	wild := NewTrie()

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	detected := format
	for scanner.Scan() {
		line := scanner.Text()
		if p.TrimWhitespace {
			line = strings.TrimSpace(line)
		}
		if line == "" {
			continue
		}

		if detected == FormatAuto {
			if f := p.detectFormat(line); f != FormatAuto {
				detected = f
			} else {
				continue
			}
		}

		domain, wildcard := p.parseLine(line, detected)
		if domain == "" {
			continue
		}
		if wildcard {
			wild.Add(domain, true)
		} else {
			exact[domain] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("blocklist: read: %w", err)
	}

	return exact, wild, nil
}

func (p *Parser) detectFormat(line string) Format {
	if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return FormatAuto
	}
	if strings.HasPrefix(line, "||") {
		return FormatAdblock
	}
	if strings.HasPrefix(line, "0.0.0.0") || strings.HasPrefix(line, "127.0.0.1") {
		return FormatHosts
	}
	return FormatDomains
}

func (p *Parser) parseLine(line string, format Format) (string, bool) {
	if p.IgnoreComments && (strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!")) {
		return "", false
	}

	switch format {
	case FormatAdblock:
		return p.parseAdblockLine(line)
	case FormatHosts:
		return p.parseHostsLine(line)
	default:
		return p.parseDomainsLine(line)
	}
}

// parseAdblockLine parses "||domain^" and "||domain^$options" rules, treating
// every matched domain as covering its subdomains. Whitelist rules ("@@"),
// URL-path rules, and mid-domain wildcards are skipped since they don't map
// to a single domain to block.
func (p *Parser) parseAdblockLine(line string) (string, bool) {
	if strings.HasPrefix(line, "@@") {
		return "", false
	}
	if !strings.HasPrefix(line, "||") {
		return "", false
	}

	domain := strings.TrimPrefix(line, "||")
	if idx := strings.IndexAny(domain, "^$"); idx >= 0 {
		domain = domain[:idx]
	}
	if strings.Contains(domain, "/") {
		return "", false
	}
	if strings.Contains(domain, "*") {
		return "", false
	}

	domain = NormalizeName(domain)
	if !isValidDomain(domain) {
		return "", false
	}
	return domain, true
}

// parseHostsLine parses "0.0.0.0 domain" / "127.0.0.1 domain" lines,
// matching the upstream blocker's filter semantics plus an inline-comment
// and localhost skip for real-world hosts files.
func (p *Parser) parseHostsLine(line string) (string, bool) {
	if idx := strings.Index(line, "#"); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}

	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", false
	}
	if fields[0] != "0.0.0.0" && fields[0] != "127.0.0.1" {
		return "", false
	}

	domain := NormalizeName(fields[1])
	if !isValidDomain(domain) {
		return "", false
	}
	if domain == "localhost" || domain == "localhost.localdomain" {
		return "", false
	}

	return domain, false
}

func (p *Parser) parseDomainsLine(line string) (string, bool) {
	if idx := strings.Index(line, "#"); idx >= 0 {
		line = line[:idx]
	}

	domain := NormalizeName(strings.TrimSpace(line))
	if !isValidDomain(domain) {
		return "", false
	}
	return domain, true
}

// ParseDomainsSlice validates and normalizes a slice of domain strings,
// useful for loading whitelist/blacklist overrides straight from config.
func (p *Parser) ParseDomainsSlice(domains []string) map[string]struct{} {
	out := make(map[string]struct{}, len(domains))
	for _, domain := range domains {
		domain = NormalizeName(domain)
		if domain != "" && isValidDomain(domain) {
			out[domain] = struct{}{}
		}
	}
	return out
}

func isValidDomain(domain string) bool {
	if domain == "" || len(domain) > 253 {
		return false
	}

	if !strings.Contains(domain, ".") {
		return false
	}

	labels := strings.Split(domain, ".")
	for _, label := range labels {
		if label == "" || len(label) > 63 {
			return false
		}

		if !isAlphaNum(label[0]) || !isAlphaNum(label[len(label)-1]) {
			return false
		}

		for _, c := range label {
			if !isAlphaNum(byte(c)) && c != '-' {
				return false
			}
		}
	}

	return true
}

func isAlphaNum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
