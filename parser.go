package pdfgate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"sync"

	"github.com/klauspost/compress/zlib"
)

// PageInfo describes one leaf of the page tree. Width and Height are in
// PDF points taken from the (possibly inherited) MediaBox.
type PageInfo struct {
	Number    int
	MediaBox  [4]float64
	Width     float64
	Height    float64
	Contents  Object
	Resources Dict
}

// PageContent is everything the rasterizer needs for one page.
type PageContent struct {
	Commands []DrawCommand
	Images   map[string]image.Image
	Fonts    map[string]*Font
}

// Font maps single-byte character codes to text, built from a ToUnicode
// CMap. A nil map means the codes are taken as Latin-1. Program holds the
// embedded TrueType program, if any.
type Font struct {
	FontID  string
	Program []byte
	fontMap map[byte]string
}

func (f *Font) ToUnicode(b byte) string {
	if f == nil || f.fontMap == nil {
		return string(rune(b))
	}
	if s, ok := f.fontMap[b]; ok {
		return s
	}
	return string(rune(b))
}

// Parser reads a classic (xref table) PDF held in memory. It is safe for
// concurrent use; object lookups are serialised.
type Parser struct {
	data    []byte
	xref    map[int]int64
	trailer Dict
	root    Ref
	logger  *slog.Logger

	mu      sync.Mutex
	objects map[int]Object
}

func NewPDFParser(data []byte, logger *slog.Logger) (*Parser, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Parser{
		data:    data,
		logger:  logger,
		objects: make(map[int]Object),
	}

	xref, trailer, err := parseXrefTable(data)
	if err != nil {
		logger.Debug("xref table unusable, scanning for objects", "error", err)
		xref, trailer, err = rebuildXref(data)
		if err != nil {
			return nil, err
		}
	}
	p.xref = xref
	p.trailer = trailer

	root, ok := trailer.Ref("Root")
	if !ok {
		return nil, fmt.Errorf("%w: trailer has no Root", ErrParserParseObjectError)
	}
	if _, ok := xref[root.Num]; !ok {
		return nil, fmt.Errorf("%w: root object %v not in xref", ErrParserParseObjectError, root)
	}
	p.root = root
	return p, nil
}

var startxrefPattern = regexp.MustCompile(`startxref\s+(\d+)`)

// parseXrefTable follows startxref and any /Prev chain. Entries from
// newer sections win over older ones.
func parseXrefTable(data []byte) (map[int]int64, Dict, error) {
	tail := data
	if len(tail) > 1024 {
		tail = tail[len(tail)-1024:]
	}
	matches := startxrefPattern.FindAllSubmatch(tail, -1)
	if len(matches) == 0 {
		return nil, nil, ErrParserXRefNotFound
	}
	offset, err := strconv.ParseInt(string(matches[len(matches)-1][1]), 10, 64)
	if err != nil {
		return nil, nil, ErrParserXRefNotFound
	}

	xref := make(map[int]int64)
	var trailer Dict
	seen := make(map[int64]bool)
	for {
		if offset < 0 || offset >= int64(len(data)) || seen[offset] {
			return nil, nil, fmt.Errorf("%w: bad xref offset %d", ErrParserXRefNotFound, offset)
		}
		seen[offset] = true
		section, err := parseXrefSection(data, offset, xref)
		if err != nil {
			return nil, nil, err
		}
		if trailer == nil {
			trailer = section
		}
		prev, ok := section.Int("Prev")
		if !ok {
			break
		}
		offset = int64(prev)
	}
	return xref, trailer, nil
}

func parseXrefSection(data []byte, offset int64, xref map[int]int64) (Dict, error) {
	lx := newLexer(data)
	lx.pos = int(offset)
	lx.skipSpaces()
	if !lx.hasPrefix("xref") {
		return nil, ErrParserXRefNotFound
	}
	lx.pos += len("xref")
	for {
		lx.skipSpaces()
		if lx.hasPrefix("trailer") {
			lx.pos += len("trailer")
			break
		}
		start, err1 := strconv.Atoi(lx.readToken())
		lx.skipSpaces()
		count, err2 := strconv.Atoi(lx.readToken())
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("%w: xref subsection header", ErrParserXRefNotFound)
		}
		for i := 0; i < count; i++ {
			lx.skipSpaces()
			off, err1 := strconv.ParseInt(lx.readToken(), 10, 64)
			lx.skipSpaces()
			_, err2 := strconv.Atoi(lx.readToken())
			lx.skipSpaces()
			kind := lx.readToken()
			if err1 != nil || err2 != nil || (kind != "n" && kind != "f") {
				return nil, fmt.Errorf("%w: xref entry %d", ErrParserXRefNotFound, start+i)
			}
			if kind != "n" {
				continue
			}
			if _, ok := xref[start+i]; !ok {
				xref[start+i] = off
			}
		}
	}
	obj, err := lx.parseObject()
	if err != nil {
		return nil, err
	}
	trailer, ok := obj.(Dict)
	if !ok {
		return nil, fmt.Errorf("%w: trailer is not a dictionary", ErrParserParseObjectError)
	}
	return trailer, nil
}

var objHeaderPattern = regexp.MustCompile(`(?m)(\d+)\s+(\d+)\s+obj\b`)

// rebuildXref recovers object offsets by scanning the whole file. Used
// for files with broken offsets; it cannot see inside object streams.
func rebuildXref(data []byte) (map[int]int64, Dict, error) {
	xref := make(map[int]int64)
	for _, m := range objHeaderPattern.FindAllSubmatchIndex(data, -1) {
		if m[0] > 0 && !isWhiteSpace(data[m[0]-1]) && !isDelimiter(data[m[0]-1]) {
			continue
		}
		num, err := strconv.Atoi(string(data[m[2]:m[3]]))
		if err != nil {
			continue
		}
		xref[num] = int64(m[0])
	}
	if len(xref) == 0 {
		return nil, nil, ErrParserXRefNotFound
	}

	if idx := bytes.LastIndex(data, []byte("trailer")); idx >= 0 {
		lx := newLexer(data)
		lx.pos = idx + len("trailer")
		if obj, err := lx.parseObject(); err == nil {
			if trailer, ok := obj.(Dict); ok {
				if _, ok := trailer.Ref("Root"); ok {
					return xref, trailer, nil
				}
			}
		}
	}

	// no usable trailer: look for the catalog directly
	for num, off := range xref {
		obj, err := parseIndirectObject(data, off, nil)
		if err != nil {
			continue
		}
		if d, ok := obj.(Dict); ok {
			if t, _ := d.Name("Type"); t == "Catalog" {
				return xref, Dict{"Root": Ref{Num: num}}, nil
			}
		}
	}
	return nil, nil, fmt.Errorf("%w: no catalog found", ErrParserXRefNotFound)
}

// parseIndirectObject parses "num gen obj ... endobj" at off. lengthOf
// resolves an indirect /Length; it may be nil.
func parseIndirectObject(data []byte, off int64, lengthOf func(Object) (int, bool)) (Object, error) {
	lx := newLexer(data)
	lx.pos = int(off)
	for i := 0; i < 3; i++ {
		tok, err := lx.parseObject()
		if err != nil {
			return nil, err
		}
		if i == 2 && tok != "obj" {
			return nil, fmt.Errorf("%w: missing obj keyword at %d", ErrParserParseObjectError, off)
		}
	}
	obj, err := lx.parseObject()
	if err != nil {
		return nil, err
	}
	dict, ok := obj.(Dict)
	if !ok {
		return obj, nil
	}
	lx.skipSpaces()
	if !lx.hasPrefix("stream") {
		return dict, nil
	}
	lx.pos += len("stream")
	if lx.peek() == '\r' {
		lx.pos++
	}
	if lx.peek() == '\n' {
		lx.pos++
	}
	start := lx.pos

	length := -1
	if n, ok := dict.Int("Length"); ok {
		length = n
	} else if lengthOf != nil {
		if n, ok := lengthOf(dict["Length"]); ok {
			length = n
		}
	}
	if length < 0 || start+length > len(data) || !bytes.Contains(data[start+length:min(len(data), start+length+32)], []byte("endstream")) {
		end := bytes.Index(data[start:], []byte("endstream"))
		if end < 0 {
			return nil, ErrParserReadStreamError
		}
		length = end
		for length > 0 && (data[start+length-1] == '\n' || data[start+length-1] == '\r') {
			length--
		}
	}
	return &Stream{Dict: dict, Data: data[start : start+length]}, nil
}

// object must be called with p.mu held.
func (p *Parser) object(ref Ref) (Object, error) {
	if obj, ok := p.objects[ref.Num]; ok {
		return obj, nil
	}
	off, ok := p.xref[ref.Num]
	if !ok {
		return nil, fmt.Errorf("%w: object %v not found", ErrParserParseObjectError, ref)
	}
	// guard against /Length cycles
	p.objects[ref.Num] = nil
	obj, err := parseIndirectObject(p.data, off, func(o Object) (int, bool) {
		v, err := p.resolve(o)
		if err != nil {
			return 0, false
		}
		n, ok := v.(int)
		return n, ok
	})
	if err != nil {
		delete(p.objects, ref.Num)
		return nil, err
	}
	p.objects[ref.Num] = obj
	return obj, nil
}

// resolve must be called with p.mu held.
func (p *Parser) resolve(obj Object) (Object, error) {
	ref, ok := obj.(Ref)
	if !ok {
		return obj, nil
	}
	return p.object(ref)
}

func (p *Parser) resolveDict(obj Object) Dict {
	v, err := p.resolve(obj)
	if err != nil {
		return nil
	}
	switch d := v.(type) {
	case Dict:
		return d
	case *Stream:
		return d.Dict
	}
	return nil
}

// Pages walks the page tree and returns the leaves in document order.
func (p *Parser) Pages() ([]PageInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	catalog := p.resolveDict(p.root)
	if catalog == nil {
		return nil, fmt.Errorf("%w: catalog", ErrParserParseObjectError)
	}
	var pages []PageInfo
	visited := make(map[int]bool)
	if err := p.walkPageTree(catalog["Pages"], nil, nil, visited, &pages); err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: document has no pages", ErrParserParseObjectError)
	}
	return pages, nil
}

func (p *Parser) walkPageTree(node Object, mediaBox Array, resources Dict, visited map[int]bool, out *[]PageInfo) error {
	if ref, ok := node.(Ref); ok {
		if visited[ref.Num] {
			return fmt.Errorf("%w: page tree cycle at %v", ErrParserParseObjectError, ref)
		}
		visited[ref.Num] = true
	}
	dict := p.resolveDict(node)
	if dict == nil {
		return fmt.Errorf("%w: page tree node", ErrParserParseObjectError)
	}
	if v, err := p.resolve(dict["MediaBox"]); err == nil {
		if arr, ok := v.(Array); ok && len(arr) == 4 {
			mediaBox = arr
		}
	}
	if res := p.resolveDict(dict["Resources"]); res != nil {
		resources = res
	}

	t, _ := dict.Name("Type")
	kids, err := p.resolve(dict["Kids"])
	if err != nil {
		return err
	}
	if kidArr, ok := kids.(Array); ok && t != "Page" {
		for _, kid := range kidArr {
			if err := p.walkPageTree(kid, mediaBox, resources, visited, out); err != nil {
				return err
			}
		}
		return nil
	}

	page := PageInfo{
		Number:    len(*out) + 1,
		Contents:  dict["Contents"],
		Resources: resources,
	}
	// Letter size when no MediaBox is inherited at all
	page.MediaBox = [4]float64{0, 0, 612, 792}
	if mediaBox != nil {
		for i := range 4 {
			v, _ := p.resolve(mediaBox[i])
			page.MediaBox[i], _ = toFloat(v)
		}
	}
	page.Width = page.MediaBox[2] - page.MediaBox[0]
	page.Height = page.MediaBox[3] - page.MediaBox[1]
	if page.Width <= 0 || page.Height <= 0 {
		return fmt.Errorf("%w: page %d has an empty MediaBox", ErrParserParseObjectError, page.Number)
	}
	*out = append(*out, page)
	return nil
}

// PageContents decodes the content streams of page and interprets them.
func (p *Parser) PageContents(page PageInfo) (*PageContent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	contents, err := p.contentStream(page.Contents)
	if err != nil {
		return nil, err
	}

	fonts := p.fonts(page.Resources)
	to := NewTokenObject(contents, fonts, p.logger)
	cmds := to.ExtractCommands()

	images := make(map[string]image.Image)
	xobjects := p.resolveDict(page.Resources["XObject"])
	for _, cmd := range cmds {
		ic, ok := cmd.(*ImageCommand)
		if !ok || xobjects == nil {
			continue
		}
		if _, done := images[ic.ImageID]; done {
			continue
		}
		img, err := p.extractImage(xobjects[ic.ImageID])
		if err != nil {
			p.logger.Warn("Skipping image", "page", page.Number, "image", ic.ImageID, "error", err)
			continue
		}
		images[ic.ImageID] = img
	}
	return &PageContent{Commands: cmds, Images: images, Fonts: fonts}, nil
}

func (p *Parser) contentStream(contents Object) ([]byte, error) {
	v, err := p.resolve(contents)
	if err != nil {
		return nil, err
	}
	switch c := v.(type) {
	case nil:
		return nil, nil
	case *Stream:
		return decodeStream(c)
	case Array:
		var buf bytes.Buffer
		for _, part := range c {
			data, err := p.contentStream(part)
			if err != nil {
				return nil, err
			}
			buf.Write(data)
			buf.WriteByte('\n')
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("%w: unexpected Contents %T", ErrParserParseObjectError, v)
}

func streamFilters(d Dict) []Name {
	switch f := d["Filter"].(type) {
	case Name:
		return []Name{f}
	case Array:
		var out []Name
		for _, o := range f {
			if n, ok := o.(Name); ok {
				out = append(out, n)
			}
		}
		return out
	}
	return nil
}

// decodeStream applies FlateDecode and ASCIIHexDecode; any other filter
// is an error.
func decodeStream(s *Stream) ([]byte, error) {
	data := s.Data
	for _, f := range streamFilters(s.Dict) {
		switch f {
		case "FlateDecode", "Fl":
			out, err := deCompressStream(data)
			if err != nil {
				return nil, err
			}
			data = out
		case "ASCIIHexDecode", "AHx":
			lx := newLexer(append(append([]byte{}, data...), '>'))
			out, err := lx.parseHexString()
			if err != nil {
				return nil, err
			}
			data = out
		default:
			return nil, fmt.Errorf("%w: unsupported filter %s", ErrParserReadStreamError, f)
		}
	}
	return data, nil
}

func deCompressStream(buffer []byte) ([]byte, error) {
	fr, err := zlib.NewReader(bytes.NewReader(buffer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParserDeCompressionError, err)
	}
	defer fr.Close()

	var out bytes.Buffer
	if _, err := io.Copy(&out, fr); err != nil && out.Len() == 0 {
		return nil, fmt.Errorf("%w: %v", ErrParserDeCompressionError, err)
	}
	return out.Bytes(), nil
}

// fontProgram returns the FontFile2 program of a simple font, or nil.
func (p *Parser) fontProgram(key string, font Dict) []byte {
	descriptor := p.resolveDict(font["FontDescriptor"])
	if descriptor == nil {
		return nil
	}
	obj, err := p.resolve(descriptor["FontFile2"])
	if err != nil {
		return nil
	}
	s, ok := obj.(*Stream)
	if !ok {
		return nil
	}
	data, err := decodeStream(s)
	if err != nil {
		p.logger.Debug("Failed to decode embedded font", "font", key, "error", err)
		return nil
	}
	program, err := ensureOS2Table(data)
	if err != nil {
		p.logger.Debug("Unusable embedded font", "font", key, "error", err)
		return nil
	}
	return program
}

func (p *Parser) fonts(resources Dict) map[string]*Font {
	fonts := make(map[string]*Font)
	fontDict := p.resolveDict(resources["Font"])
	for key, value := range fontDict {
		font := p.resolveDict(value)
		if font == nil {
			continue
		}
		f := &Font{FontID: key}
		if tu, err := p.resolve(font["ToUnicode"]); err == nil {
			if s, ok := tu.(*Stream); ok {
				if data, err := decodeStream(s); err == nil {
					f.fontMap = ExtractCMaps(data)
				}
			}
		}
		f.Program = p.fontProgram(key, font)
		fonts[key] = f
	}
	return fonts
}

var (
	bfrangePattern = regexp.MustCompile(`(?s)beginbfrange(.*?)endbfrange`)
	bfcharPattern  = regexp.MustCompile(`(?s)beginbfchar(.*?)endbfchar`)
	hexPattern     = regexp.MustCompile(`<([0-9A-Fa-f]*)>`)
)

// ExtractCMaps reads the single-byte bfchar and bfrange entries of a
// ToUnicode CMap.
func ExtractCMaps(cmap []byte) map[byte]string {
	values := make(map[byte]string)
	decode := func(h []byte) (uint64, bool) {
		v, err := strconv.ParseUint(string(h), 16, 32)
		return v, err == nil
	}
	for _, block := range bfcharPattern.FindAllSubmatch(cmap, -1) {
		hex := hexPattern.FindAllSubmatch(block[1], -1)
		for i := 0; i+1 < len(hex); i += 2 {
			src, ok1 := decode(hex[i][1])
			dst, ok2 := decode(hex[i+1][1])
			if ok1 && ok2 && src < 256 {
				values[byte(src)] = string(rune(dst))
			}
		}
	}
	for _, block := range bfrangePattern.FindAllSubmatch(cmap, -1) {
		hex := hexPattern.FindAllSubmatch(block[1], -1)
		for i := 0; i+2 < len(hex); i += 3 {
			lo, ok1 := decode(hex[i][1])
			hi, ok2 := decode(hex[i+1][1])
			dst, ok3 := decode(hex[i+2][1])
			if !ok1 || !ok2 || !ok3 || hi < lo || hi > 255 {
				continue
			}
			for c := lo; c <= hi; c++ {
				values[byte(c)] = string(rune(dst + c - lo))
			}
		}
	}
	return values
}

// extractImage decodes an image XObject: DCTDecode through image/jpeg,
// otherwise 8-bit Gray or RGB samples after FlateDecode.
func (p *Parser) extractImage(obj Object) (image.Image, error) {
	v, err := p.resolve(obj)
	if err != nil {
		return nil, err
	}
	s, ok := v.(*Stream)
	if !ok {
		return nil, fmt.Errorf("%w: XObject is not a stream", ErrParserParseObjectError)
	}
	if st, _ := s.Dict.Name("Subtype"); st != "Image" {
		return nil, fmt.Errorf("%w: XObject subtype %q", ErrParserParseObjectError, st)
	}

	filters := streamFilters(s.Dict)
	if len(filters) > 0 && filters[len(filters)-1] == "DCTDecode" {
		data := s.Data
		if len(filters) > 1 {
			inner := &Stream{Dict: Dict{"Filter": Array{}}, Data: data}
			for _, f := range filters[:len(filters)-1] {
				inner.Dict["Filter"] = append(inner.Dict["Filter"].(Array), f)
			}
			if data, err = decodeStream(inner); err != nil {
				return nil, err
			}
		}
		return jpeg.Decode(bytes.NewReader(data))
	}

	width, ok1 := s.Dict.Int("Width")
	height, ok2 := s.Dict.Int("Height")
	if !ok1 || !ok2 || width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: image without size", ErrParserParseObjectError)
	}
	if bpc, ok := s.Dict.Int("BitsPerComponent"); ok && bpc != 8 {
		return nil, fmt.Errorf("%w: %d bits per component", ErrParserReadStreamError, bpc)
	}
	data, err := decodeStream(s)
	if err != nil {
		return nil, err
	}

	switch p.colorComponents(s.Dict["ColorSpace"]) {
	case 1:
		if len(data) < width*height {
			return nil, ErrParserReadStreamError
		}
		img := image.NewGray(image.Rect(0, 0, width, height))
		copy(img.Pix, data)
		return img, nil
	case 3:
		if len(data) < width*height*3 {
			return nil, ErrParserReadStreamError
		}
		img := image.NewRGBA(image.Rect(0, 0, width, height))
		for i := 0; i < width*height; i++ {
			img.SetRGBA(i%width, i/width, color.RGBA{data[3*i], data[3*i+1], data[3*i+2], 0xff})
		}
		return img, nil
	}
	return nil, fmt.Errorf("%w: unsupported colour space", ErrParserReadStreamError)
}

func (p *Parser) colorComponents(cs Object) int {
	v, err := p.resolve(cs)
	if err != nil {
		return 0
	}
	switch c := v.(type) {
	case Name:
		switch c {
		case "DeviceGray", "G", "CalGray":
			return 1
		case "DeviceRGB", "RGB", "CalRGB":
			return 3
		}
	case Array:
		if len(c) == 2 {
			if n, _ := c[0].(Name); n == "ICCBased" {
				if d := p.resolveDict(c[1]); d != nil {
					n, _ := d.Int("N")
					return n
				}
			}
		}
	}
	return 0
}
