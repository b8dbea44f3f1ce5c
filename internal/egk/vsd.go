package egk

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/cortex-x/go-cardlink-client/internal/domain"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/text/encoding/charmap"
)

// VSDMNamespace is the XML namespace of the insurance data documents.
const VSDMNamespace = "http://ws.gematik.de/fa/vsdm/vsd/v5.2"

var (
	ErrInvalidPD = errors.New("egk: invalid EF.PD")
	ErrInvalidVD = errors.New("egk: invalid EF.VD")
)

// ParsePersonalData decodes EF.PD: a two byte big endian length followed by
// the gzipped UC_PersoenlicheVersichertendatenXML document.
func ParsePersonalData(raw []byte) (*domain.PersonalData, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidPD, len(raw))
	}
	length := int(raw[0])<<8 | int(raw[1])
	if length == 0 || 2+length > len(raw) {
		return nil, fmt.Errorf("%w: length %d exceeds data", ErrInvalidPD, length)
	}

	var pd domain.PersonalData
	if err := decodeDocument(raw[2:2+length], "UC_PersoenlicheVersichertendatenXML", &pd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPD, err)
	}
	return &pd, nil
}

// ParseInsurerData decodes EF.VD. The first four bytes hold the start and
// end offset (inclusive, big endian) of the gzipped
// UC_AllgemeineVersicherungsdatenXML document.
func ParseInsurerData(raw []byte) (*domain.InsurerData, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidVD, len(raw))
	}
	start := int(raw[0])<<8 | int(raw[1])
	end := int(raw[2])<<8 | int(raw[3])
	if start < 4 || end < start || end >= len(raw) {
		return nil, fmt.Errorf("%w: offsets %d..%d outside %d bytes", ErrInvalidVD, start, end, len(raw))
	}

	var vd domain.InsurerData
	if err := decodeDocument(raw[start:end+1], "UC_AllgemeineVersicherungsdatenXML", &vd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVD, err)
	}
	return &vd, nil
}

func decodeDocument(compressed []byte, root string, v interface{}) error {
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return err
	}
	defer zr.Close()

	latin, err := io.ReadAll(zr)
	if err != nil {
		return err
	}
	// The documents are ISO-8859-15 regardless of what the prolog says.
	doc, err := charmap.ISO8859_15.NewDecoder().Bytes(latin)
	if err != nil {
		return err
	}

	dec := xml.NewDecoder(bytes.NewReader(doc))
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("root element %s not found", root)
			}
			return err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != root {
			return fmt.Errorf("unexpected root element %s", start.Name.Local)
		}
		if start.Name.Space != "" && start.Name.Space != VSDMNamespace {
			return fmt.Errorf("unexpected namespace %s", start.Name.Space)
		}
		return dec.DecodeElement(v, &start)
	}
}
