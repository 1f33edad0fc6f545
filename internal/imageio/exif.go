package imageio

import (
	"errors"
	"fmt"

	"github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
)

// OrientationNormal is the EXIF value for an image that needs no rotation.
const OrientationNormal = 1

// ReadOrientation returns the EXIF Orientation tag (1..8) of an image, or
// OrientationNormal when the image has no EXIF block or no such tag.
func ReadOrientation(data []byte) (orientation int, err error) {
	// go-exif reports some malformed blocks by panicking.
	defer func() {
		if r := recover(); r != nil {
			orientation, err = OrientationNormal, fmt.Errorf("exif parse panic: %v", r)
		}
	}()

	rawExif, err := exif.SearchAndExtractExif(data)
	if err != nil {
		if errors.Is(err, exif.ErrNoExif) {
			return OrientationNormal, nil
		}
		return OrientationNormal, fmt.Errorf("search exif: %w", err)
	}

	im := exifcommon.NewIfdMapping()
	if err := exifcommon.LoadStandardIfds(im); err != nil {
		return OrientationNormal, fmt.Errorf("load ifds: %w", err)
	}
	ti := exif.NewTagIndex()

	_, index, err := exif.Collect(im, ti, rawExif)
	if err != nil {
		return OrientationNormal, fmt.Errorf("collect exif: %w", err)
	}

	tags, err := index.RootIfd.FindTagWithName("Orientation")
	if err != nil || len(tags) == 0 {
		return OrientationNormal, nil
	}
	val, err := tags[0].Value()
	if err != nil {
		return OrientationNormal, fmt.Errorf("orientation value: %w", err)
	}

	var o int
	switch v := val.(type) {
	case []uint16:
		if len(v) > 0 {
			o = int(v[0])
		}
	case uint16:
		o = int(v)
	}
	if o < 1 || o > 8 {
		return OrientationNormal, nil
	}
	return o, nil
}
