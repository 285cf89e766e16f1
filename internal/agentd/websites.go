package agentd

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/EnderKC/BetterMonitor-sub000/internal/agentrest"
)

// Sites lists the websites configured under a directory of nginx-style
// config files (one or more server blocks per file).
type Sites struct {
	dir string
}

func NewSites(dir string) *Sites {
	return &Sites{dir: dir}
}

// List scans the site directory. Unreadable files and directories are
// skipped; the listing is cheap enough to rebuild on every request.
func (s *Sites) List() []agentrest.WebsiteInfo {
	out := make([]agentrest.WebsiteInfo, 0)
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return out
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		// sites-enabled entries are *.conf files or extensionless symlinks.
		if ext := filepath.Ext(name); ext != "" && ext != ".conf" {
			continue
		}
		out = append(out, parseSiteFile(filepath.Join(s.dir, name))...)
	}
	return out
}

// parseSiteFile extracts the server blocks of one config file. This is a
// directive scan, not a full nginx grammar: it tracks brace depth and
// picks up server_name, root, proxy_pass and ssl listens, which is all
// the inventory shows.
func parseSiteFile(path string) []agentrest.WebsiteInfo {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var sites []agentrest.WebsiteInfo
	var cur *agentrest.WebsiteInfo
	depth := 0
	serverDepth := 0

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}

		if cur == nil && strings.HasPrefix(line, "server") && strings.Contains(line, "{") {
			cur = &agentrest.WebsiteInfo{ConfigPath: path}
			serverDepth = depth
		}
		depth += strings.Count(line, "{")
		depth -= strings.Count(line, "}")

		if cur == nil {
			continue
		}

		switch {
		case strings.HasPrefix(line, "server_name "):
			if cur.Domain == "" {
				fields := strings.Fields(strings.TrimSuffix(line, ";"))
				if len(fields) > 1 {
					cur.Domain = fields[1]
				}
			}
		case strings.HasPrefix(line, "root "):
			if cur.Root == "" {
				cur.Root = trimDirective(line, "root")
			}
		case strings.HasPrefix(line, "proxy_pass "):
			if cur.Upstream == "" {
				cur.Upstream = trimDirective(line, "proxy_pass")
			}
		case strings.HasPrefix(line, "listen "):
			if strings.Contains(line, "ssl") || strings.Contains(line, "443") {
				cur.SSL = true
			}
		}

		if depth <= serverDepth {
			if cur.Domain != "" {
				sites = append(sites, *cur)
			}
			cur = nil
		}
	}
	return sites
}

func trimDirective(line, name string) string {
	return strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(line, name+" ")), ";")
}
