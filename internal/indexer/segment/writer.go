// Package segment reads and writes immutable .spdx segment files. A segment
// holds the postings of every (field, term) pair flushed from a memory
// index together with the table of documents those postings refer to.
//
// Layout: a 64-byte header, JSON-encoded posting lists, the JSON
// dictionary, the JSON document table, and a 32-byte footer carrying a
// CRC32 over dictionary and document table.
package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/indexer/index"
)

// MagicBytes identifies a valid .spdx segment file.
const (
	MagicBytes    uint32 = 0x53504458
	FormatVersion uint32 = 2
	HeaderSize    int    = 64
	FooterSize    int    = 32
	Extension            = ".spdx"
)

// SegmentHeader is the 64-byte header written at the start of every segment.
type SegmentHeader struct {
	Magic      uint32
	Version    uint32
	TermCount  uint32
	DocCount   uint32
	DictOffset int64
	DictSize   int64
	PostOffset int64
	PostSize   int64
	DocsOffset int64
	DocsSize   int64
}

func (h SegmentHeader) encode() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.TermCount)
	binary.LittleEndian.PutUint32(b[12:16], h.DocCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.DictSize))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.PostSize))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.DocsOffset))
	binary.LittleEndian.PutUint64(b[56:64], uint64(h.DocsSize))
	return b
}

func decodeHeader(b []byte) SegmentHeader {
	return SegmentHeader{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Version:    binary.LittleEndian.Uint32(b[4:8]),
		TermCount:  binary.LittleEndian.Uint32(b[8:12]),
		DocCount:   binary.LittleEndian.Uint32(b[12:16]),
		DictOffset: int64(binary.LittleEndian.Uint64(b[16:24])),
		DictSize:   int64(binary.LittleEndian.Uint64(b[24:32])),
		PostOffset: int64(binary.LittleEndian.Uint64(b[32:40])),
		PostSize:   int64(binary.LittleEndian.Uint64(b[40:48])),
		DocsOffset: int64(binary.LittleEndian.Uint64(b[48:56])),
		DocsSize:   int64(binary.LittleEndian.Uint64(b[56:64])),
	}
}

// DictEntry maps a (field, term) pair to its postings offset, length, and
// document frequency in the segment file.
type DictEntry struct {
	Field      string `json:"f"`
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    int    `json:"d"`
}

// Writer serialises memory index snapshots into new .spdx segment files.
type Writer struct {
	dataDir string
}

// NewWriter creates a Writer that writes segments into the given directory.
func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

// Write atomically creates a new segment file containing the given term
// entries and documents. Entries must be sorted by field then term. It
// writes to a .tmp file first and renames on success.
func (w *Writer) Write(entries []index.TermEntry, docs []index.DocEntry) (string, error) {
	if len(docs) == 0 {
		return "", fmt.Errorf("cannot write empty segment")
	}
	segmentName := fmt.Sprintf("seg_%020d%s", time.Now().UnixNano(), Extension)
	finalPath := filepath.Join(w.dataDir, segmentName)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(w.dataDir, 0755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	defer f.Close()

	header := SegmentHeader{
		Magic:      MagicBytes,
		Version:    FormatVersion,
		TermCount:  uint32(len(entries)),
		DocCount:   uint32(len(docs)),
		PostOffset: int64(HeaderSize),
	}
	if _, err := f.Write(make([]byte, HeaderSize)); err != nil {
		return "", fmt.Errorf("writing header: %w", err)
	}

	offset := header.PostOffset
	dict := make([]DictEntry, 0, len(entries))
	for _, entry := range entries {
		postingsData, err := json.Marshal(entry.Postings)
		if err != nil {
			return "", fmt.Errorf("marshaling postings for %s:%s: %w", entry.Field, entry.Term, err)
		}
		if _, err := f.Write(postingsData); err != nil {
			return "", fmt.Errorf("writing postings for %s:%s: %w", entry.Field, entry.Term, err)
		}
		dict = append(dict, DictEntry{
			Field:      entry.Field,
			Term:       entry.Term,
			PostOffset: offset - header.PostOffset,
			PostLen:    len(postingsData),
			DocFreq:    len(entry.Postings),
		})
		offset += int64(len(postingsData))
	}
	header.PostSize = offset - header.PostOffset

	dictData, err := json.Marshal(dict)
	if err != nil {
		return "", fmt.Errorf("marshaling dictionary: %w", err)
	}
	if _, err := f.Write(dictData); err != nil {
		return "", fmt.Errorf("writing dictionary: %w", err)
	}
	header.DictOffset = offset
	header.DictSize = int64(len(dictData))
	offset += header.DictSize

	docsData, err := json.Marshal(docs)
	if err != nil {
		return "", fmt.Errorf("marshaling document table: %w", err)
	}
	if _, err := f.Write(docsData); err != nil {
		return "", fmt.Errorf("writing document table: %w", err)
	}
	header.DocsOffset = offset
	header.DocsSize = int64(len(docsData))

	checksum := crc32.NewIEEE()
	checksum.Write(dictData)
	checksum.Write(docsData)
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], checksum.Sum32())
	binary.LittleEndian.PutUint32(footer[4:8], header.DocCount)
	binary.LittleEndian.PutUint64(footer[8:16], uint64(header.DictOffset))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(header.DictSize))
	binary.LittleEndian.PutUint64(footer[24:32], uint64(header.DocsSize))
	if _, err := f.Write(footer); err != nil {
		return "", fmt.Errorf("writing footer: %w", err)
	}
	if _, err := f.WriteAt(header.encode(), 0); err != nil {
		return "", fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing segment file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing segment file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	return segmentName, nil
}
