package agentd

import (
	"crypto/x509"
	"encoding/pem"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/EnderKC/BetterMonitor-sub000/internal/agentrest"
)

const certRescanDebounce = 500 * time.Millisecond

// CertStore inventories the TLS certificates under one directory tree.
// Listings are served from cache; an fsnotify watch invalidates it when
// anything under the tree changes, since renewals drop new files in place.
type CertStore struct {
	dir string

	mu     sync.Mutex
	cached []agentrest.CertificateInfo
	valid  bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewCertStore builds the store and starts the watch. Without a working
// watcher the store rescans on every listing instead of caching.
func NewCertStore(dir string) *CertStore {
	s := &CertStore{dir: dir, done: make(chan struct{})}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[certs] watcher: %v", err)
		return s
	}
	if err := watchDirsRecursive(w, dir); err != nil {
		log.Printf("[certs] watch %s: %v", dir, err)
		w.Close()
		return s
	}
	s.watcher = w
	go s.watchLoop()
	return s
}

// Close stops the watch.
func (s *CertStore) Close() {
	close(s.done)
	if s.watcher != nil {
		s.watcher.Close()
	}
}

// List returns the certificate inventory, from cache when it is valid.
func (s *CertStore) List() []agentrest.CertificateInfo {
	s.mu.Lock()
	if s.valid && s.watcher != nil {
		out := make([]agentrest.CertificateInfo, len(s.cached))
		copy(out, s.cached)
		s.mu.Unlock()
		return out
	}
	s.mu.Unlock()

	certs := scanCertDir(s.dir)

	s.mu.Lock()
	s.cached = certs
	s.valid = true
	s.mu.Unlock()

	out := make([]agentrest.CertificateInfo, len(certs))
	copy(out, certs)
	return out
}

// watchLoop invalidates the cache on filesystem events, debounced so a
// renewal writing several files triggers one rescan. New subdirectories
// are added to the watch as they appear.
func (s *CertStore) watchLoop() {
	var timer *time.Timer
	for {
		select {
		case <-s.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					s.watcher.Add(event.Name)
				}
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(certRescanDebounce, s.invalidate)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[certs] watcher: %v", err)
		}
	}
}

func (s *CertStore) invalidate() {
	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()
}

// scanCertDir walks the tree and parses every certificate file. Leaf
// certificates only; chain files whose first block is a CA are skipped,
// and the same certificate reachable under several names (cert.pem and
// fullchain.pem) is reported once.
func scanCertDir(dir string) []agentrest.CertificateInfo {
	out := make([]agentrest.CertificateInfo, 0)
	seen := make(map[string]bool)

	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".pem", ".crt", ".cer":
		default:
			return nil
		}
		info, serial, ok := parseCertFile(path)
		if !ok || seen[serial] {
			return nil
		}
		seen[serial] = true
		out = append(out, info)
		return nil
	})

	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// parseCertFile reads the first certificate block of a PEM file. Key files
// and CA certificates report ok=false.
func parseCertFile(path string) (agentrest.CertificateInfo, string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return agentrest.CertificateInfo{}, "", false
	}

	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return agentrest.CertificateInfo{}, "", false
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil || cert.IsCA {
			return agentrest.CertificateInfo{}, "", false
		}

		domain := cert.Subject.CommonName
		if domain == "" && len(cert.DNSNames) > 0 {
			domain = cert.DNSNames[0]
		}
		return agentrest.CertificateInfo{
			Domain:    domain,
			Issuer:    cert.Issuer.CommonName,
			SANs:      cert.DNSNames,
			NotBefore: cert.NotBefore,
			NotAfter:  cert.NotAfter,
			Expired:   time.Now().After(cert.NotAfter),
			Path:      path,
		}, cert.SerialNumber.String(), true
	}
	return agentrest.CertificateInfo{}, "", false
}

// watchDirsRecursive adds dir and every subdirectory to the watcher.
func watchDirsRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.Add(path)
	})
}
