// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

import (
	"bufio"
	"compress/bzip2"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	"git.arvados.org/arvados.git/sdk/go/arvadosclient"
	"git.arvados.org/arvados.git/sdk/go/keepclient"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"
)

// Compression suffixes recognized by the dispatcher and by zopen.
var compressionSuffixes = []string{".gz", ".bz2", ".xz", ".zst"}

// stripCompression returns fnm without a trailing compression
// suffix, and the suffix ("" if none).
func stripCompression(fnm string) (string, string) {
	ext := filepath.Ext(fnm)
	for _, s := range compressionSuffixes {
		if ext == s {
			return strings.TrimSuffix(fnm, ext), ext
		}
	}
	return fnm, ""
}

// zopen returns a reader for the given file, using the arvados API
// instead of arv-mount/fuse where applicable, and transparently
// decompressing the input according to its suffix.
func zopen(fnm string) (io.ReadCloser, error) {
	f, err := open(fnm)
	if err != nil {
		return nil, err
	}
	_, ext := stripCompression(fnm)
	var rdr io.ReadCloser
	switch ext {
	case "":
		return f, nil
	case ".gz":
		rdr, err = pgzip.NewReader(bufio.NewReaderSize(f, 4*1024*1024))
	case ".bz2":
		rdr = ioutil.NopCloser(bzip2.NewReader(bufio.NewReader(f)))
	case ".xz":
		var xzr *xz.Reader
		xzr, err = xz.NewReader(bufio.NewReader(f))
		rdr = ioutil.NopCloser(xzr)
	case ".zst":
		var dec *zstd.Decoder
		dec, err = zstd.NewReader(bufio.NewReader(f))
		if err == nil {
			rdr = dec.IOReadCloser()
		}
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	return zr{rdr, f}, nil
}

// zr wraps a ReadCloser and a Closer, presenting a single Close()
// method that closes both wrapped objects.
type zr struct {
	io.ReadCloser
	io.Closer
}

func (z zr) Close() error {
	e1 := z.ReadCloser.Close()
	e2 := z.Closer.Close()
	if e1 != nil {
		return e1
	}
	return e2
}

var collectionInPathRe = regexp.MustCompile(`^(.*/)?([0-9a-f]{32}\+[0-9]+|[0-9a-z]{5}-[0-9a-z]{5}-[0-9a-z]{15})(/.*)?$`)

var (
	keepClient *keepclient.KeepClient
	siteFS     arvados.CustomFileSystem
	siteFSMtx  sync.Mutex
)

type file interface {
	io.ReadCloser
	Stat() (os.FileInfo, error)
}

// open opens fnm from the local filesystem, or from Keep if
// ARVADOS_API_HOST is set and fnm refers to a collection.
func open(fnm string) (file, error) {
	if os.Getenv("ARVADOS_API_HOST") == "" {
		return os.Open(fnm)
	}
	m := collectionInPathRe.FindStringSubmatch(fnm)
	if m == nil {
		return os.Open(fnm)
	}
	collectionUUID := m[2]
	collectionPath := m[3]

	siteFSMtx.Lock()
	defer siteFSMtx.Unlock()
	if siteFS == nil {
		log.Info("setting up Arvados client")
		client := arvados.NewClientFromEnv()
		ac, err := arvadosclient.New(client)
		if err != nil {
			return nil, err
		}
		ac.Client = arvados.DefaultSecureClient
		keepClient = keepclient.New(ac)
		// Don't use keepclient's default short timeouts.
		keepClient.HTTPClient = arvados.DefaultSecureClient
		keepClient.BlockCache = &keepclient.BlockCache{MaxBlocks: 4}
		siteFS = client.SiteFileSystem(keepClient)
	}

	log.Infof("reading %q from %s using Arvados client", collectionPath, collectionUUID)
	return siteFS.Open("by_id/" + collectionUUID + collectionPath)
}

// fileSize returns the size in bytes of fnm as stored (compressed
// size for compressed files).
func fileSize(fnm string) (int64, error) {
	f, err := open(fnm)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// isFile reports whether fnm names an existing regular file.
func isFile(fnm string) bool {
	f, err := open(fnm)
	if err != nil {
		return false
	}
	defer f.Close()
	fi, err := f.Stat()
	return err == nil && fi.Mode().IsRegular()
}
