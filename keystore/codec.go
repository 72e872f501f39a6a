package keystore

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"slices"
	"strings"
)

// records is the content of a keystore config file. Each value is written as text
// or as base64, on one line or spanning several:
//
//	format=T{pem}
//	certificate=T{
//	-----BEGIN CERTIFICATE-----
//	...
//	-----END CERTIFICATE-----
//	}
//	key=B{
//	base64 over several lines
//	}
//
// Blank lines and lines starting with # are skipped.
type records map[string][]byte

const wrapWidth = 64

// textSafe reports whether b can be written between T{ and } unchanged.
func textSafe(b []byte) bool {
	for _, c := range b {
		switch {
		case c == '{' || c == '}':
			return false
		case c == '\n' || c == '\t':
		case c < 0x20 || c >= 0x7f:
			return false
		}
	}
	return true
}

// block is a value being collected across lines.
type block struct {
	key    string
	binary bool
	body   bytes.Buffer
}

func (b *block) value() ([]byte, error) {
	if !b.binary {
		return bytes.Clone(bytes.Trim(b.body.Bytes(), "\n")), nil
	}
	v, err := base64.StdEncoding.DecodeString(b.body.String())
	if err != nil {
		return nil, fmt.Errorf("keystore: value %q: %w", b.key, err)
	}
	return v, nil
}

func decodeRecords(r io.Reader) (records, error) {
	rs := make(records)
	sc := bufio.NewScanner(r)
	sc.Buffer(nil, 1<<20)

	var open *block
	for sc.Scan() {
		line := sc.Text()
		if open != nil {
			if line != "}" {
				if open.body.Len() > 0 && !open.binary {
					open.body.WriteByte('\n')
				}
				if open.binary {
					line = strings.TrimSpace(line)
				}
				open.body.WriteString(line)
				continue
			}
			v, err := open.value()
			if err != nil {
				return nil, err
			}
			rs[open.key] = v
			open = nil
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		switch {
		case val == "T{" || val == "B{":
			open = &block{key: key, binary: val[0] == 'B'}
		case strings.HasPrefix(val, "T{") && strings.HasSuffix(val, "}"):
			rs[key] = []byte(val[2 : len(val)-1])
		case strings.HasPrefix(val, "B{") && strings.HasSuffix(val, "}"):
			v, err := base64.StdEncoding.DecodeString(val[2 : len(val)-1])
			if err != nil {
				return nil, fmt.Errorf("keystore: value %q: %w", key, err)
			}
			rs[key] = v
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if open != nil {
		return nil, fmt.Errorf("keystore: value %q is not terminated", open.key)
	}
	return rs, nil
}

// encode writes the records sorted by key.
func (rs records) encode(w io.Writer) error {
	keys := make([]string, 0, len(rs))
	for k := range rs {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	bw := bufio.NewWriter(w)
	for _, k := range keys {
		v := rs[k]
		if textSafe(v) {
			if bytes.IndexByte(v, '\n') < 0 {
				fmt.Fprintf(bw, "%s=T{%s}\n\n", k, v)
			} else {
				fmt.Fprintf(bw, "%s=T{\n%s\n}\n\n", k, v)
			}
			continue
		}
		enc := base64.StdEncoding.EncodeToString(v)
		if len(enc) <= wrapWidth {
			fmt.Fprintf(bw, "%s=B{%s}\n\n", k, enc)
			continue
		}
		fmt.Fprintf(bw, "%s=B{\n", k)
		for len(enc) > 0 {
			n := min(wrapWidth, len(enc))
			fmt.Fprintf(bw, "%s\n", enc[:n])
			enc = enc[n:]
		}
		fmt.Fprintf(bw, "}\n\n")
	}
	return bw.Flush()
}
