package segment

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/indexer/index"
)

// ErrCorrupt is returned when a segment fails structural or checksum
// validation.
var ErrCorrupt = errors.New("corrupt segment")

type Reader struct {
	file     *os.File
	filePath string
	header   SegmentHeader
	dict     []DictEntry
	docs     []index.DocEntry
}

// OpenReader opens a segment, validates its header and footer checksum,
// and loads the dictionary and document table into memory. Postings are
// read on demand.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	r, err := load(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func load(f *os.File, path string) (*Reader, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat segment file: %w", err)
	}
	if info.Size() < int64(HeaderSize+FooterSize) {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrCorrupt, path, info.Size())
	}
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("reading segment header: %w", err)
	}
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("%w: bad magic bytes %x", ErrCorrupt, header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, header.Version)
	}
	if header.DocsOffset+header.DocsSize+int64(FooterSize) != info.Size() {
		return nil, fmt.Errorf("%w: section sizes do not match file size", ErrCorrupt)
	}

	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, info.Size()-int64(FooterSize)); err != nil {
		return nil, fmt.Errorf("reading segment footer: %w", err)
	}
	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	docsBytes := make([]byte, header.DocsSize)
	if _, err := f.ReadAt(docsBytes, header.DocsOffset); err != nil {
		return nil, fmt.Errorf("reading document table: %w", err)
	}
	checksum := crc32.NewIEEE()
	checksum.Write(dictBytes)
	checksum.Write(docsBytes)
	if want := binary.LittleEndian.Uint32(footer[0:4]); checksum.Sum32() != want {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	var dict []DictEntry
	if err := json.Unmarshal(dictBytes, &dict); err != nil {
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}
	var docs []index.DocEntry
	if err := json.Unmarshal(docsBytes, &docs); err != nil {
		return nil, fmt.Errorf("parsing document table: %w", err)
	}
	return &Reader{
		file:     f,
		filePath: path,
		header:   header,
		dict:     dict,
		docs:     docs,
	}, nil
}

// Search returns the postings for term in field, or nil when the segment
// does not contain it.
func (r *Reader) Search(field, term string) (index.PostingList, error) {
	idx := sort.Search(len(r.dict), func(i int) bool {
		if r.dict[i].Field != field {
			return r.dict[i].Field >= field
		}
		return r.dict[i].Term >= term
	})
	if idx >= len(r.dict) || r.dict[idx].Field != field || r.dict[idx].Term != term {
		return nil, nil
	}
	entry := r.dict[idx]
	postingsBytes := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(postingsBytes, r.header.PostOffset+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings for %s:%s: %w", field, term, err)
	}
	var postings index.PostingList
	if err := json.Unmarshal(postingsBytes, &postings); err != nil {
		return nil, fmt.Errorf("parsing postings for %s:%s: %w", field, term, err)
	}
	return postings, nil
}

// Docs returns the document table in ordinal order.
func (r *Reader) Docs() []index.DocEntry {
	return r.docs
}

func (r *Reader) Path() string {
	return r.filePath
}

func (r *Reader) Terms() int {
	return len(r.dict)
}

func (r *Reader) DocCount() uint32 {
	return r.header.DocCount
}

func (r *Reader) Close() error {
	return r.file.Close()
}
