package media

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"github.com/miyagawa-lab/geonarrator/geo"
	"github.com/miyagawa-lab/geonarrator/models"
)

// IngestMaxSize is the longest side, in pixels, images are shrunk to
// before being stored and sent to the model.
const IngestMaxSize = 512

const jpegQuality = 80

var supportedImageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// IsRasterImage checks if the filename has a common raster image extension
func IsRasterImage(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return supportedImageExtensions[ext]
}

// ContentHash returns the hex MD5 digest of the image bytes, the record
// de-duplication key.
func ContentHash(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// CaptureInfo is what ingest extracts from an image's EXIF block.
type CaptureInfo struct {
	Point        geo.Point
	HasPoint     bool
	Direction    float64 // compass degrees
	HasDirection bool
	CapturedAt   *int64
	Exif         models.JSONMap
}

type exifCollector struct {
	fields models.JSONMap
}

func (c *exifCollector) Walk(name exif.FieldName, tag *tiff.Tag) error {
	c.fields[string(name)] = strings.Trim(tag.String(), "\"")
	return nil
}

// ExtractCaptureInfo reads GPS position, camera heading, capture time, and
// the full tag map from the image's EXIF block. Images without EXIF yield
// an empty CaptureInfo, not an error; the caller decides whether missing
// GPS data is fatal.
func ExtractCaptureInfo(data []byte) (*CaptureInfo, error) {
	info := &CaptureInfo{Exif: models.JSONMap{}}

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil && exif.IsCriticalError(err) {
		// no usable EXIF block at all
		return info, nil
	}
	if x == nil {
		return info, nil
	}

	collector := &exifCollector{fields: info.Exif}
	if err := x.Walk(collector); err != nil {
		return nil, fmt.Errorf("failed to walk EXIF tags: %w", err)
	}

	if lat, lng, err := x.LatLong(); err == nil {
		info.Point = geo.Point{Lng: lng, Lat: lat}
		info.HasPoint = true
	}

	if tag, err := x.Get(exif.GPSImgDirection); err == nil && tag != nil {
		if num, den, err := tag.Rat2(0); err == nil && den != 0 {
			info.Direction = geo.NormalizeDegrees(float64(num) / float64(den))
			info.HasDirection = true
		}
	}

	if taken, err := x.DateTime(); err == nil {
		ts := taken.Unix()
		info.CapturedAt = &ts
	}

	return info, nil
}

// EncodeJPEGDataURI shrinks the image to maxSize on its longest side and
// returns it as a JPEG data URI, the form stored on the record and sent to
// the model.
func EncodeJPEGDataURI(data []byte, maxSize int) (string, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	if maxSize > 0 {
		img = imaging.Fit(img, maxSize, maxSize, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return "", fmt.Errorf("failed to encode JPEG: %w", err)
	}

	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
