package types

import "strings"

// Image is a still image acquired from a camera or picked from disk.
// It is treated as immutable once acquired.
type Image struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Data        []byte `json:"-"`
}

// Size returns the payload size in bytes
func (i *Image) Size() int {
	if i == nil {
		return 0
	}
	return len(i.Data)
}

// Feature is one category of visual analysis requested from the remote service
type Feature string

const (
	FeatureAdult       Feature = "Adult"
	FeatureCategories  Feature = "Categories"
	FeatureColor       Feature = "Color"
	FeatureDescription Feature = "Description"
	FeatureFaces       Feature = "Faces"
	FeatureImageType   Feature = "ImageType"
	FeatureTags        Feature = "Tags"
)

// AllFeatures returns the full feature set requested on the primary path
func AllFeatures() []Feature {
	return []Feature{
		FeatureAdult,
		FeatureCategories,
		FeatureColor,
		FeatureDescription,
		FeatureFaces,
		FeatureImageType,
		FeatureTags,
	}
}

// JoinFeatures renders features as the comma separated list used in query strings
func JoinFeatures(features []Feature) string {
	names := make([]string, len(features))
	for i, f := range features {
		names[i] = string(f)
	}
	return strings.Join(names, ",")
}

// Caption is a single natural-language description candidate
type Caption struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Description is the description block of an analysis result.
// Captions may be empty.
type Description struct {
	Tags     []string  `json:"tags,omitempty"`
	Captions []Caption `json:"captions"`
}

// Tag is a content tag with its confidence
type Tag struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Hint       string  `json:"hint,omitempty"`
}

// Category is a taxonomy category the image was classified into
type Category struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Rectangle is a pixel rectangle inside the analyzed image
type Rectangle struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Face is a detected face
type Face struct {
	Age           int       `json:"age,omitempty"`
	Gender        string    `json:"gender,omitempty"`
	Confidence    float64   `json:"confidence,omitempty"`
	FaceRectangle Rectangle `json:"faceRectangle"`
}

// Color holds the color scheme of the image
type Color struct {
	DominantColorForeground string   `json:"dominantColorForeground,omitempty"`
	DominantColorBackground string   `json:"dominantColorBackground,omitempty"`
	DominantColors          []string `json:"dominantColors,omitempty"`
	AccentColor             string   `json:"accentColor,omitempty"`
	IsBWImg                 bool     `json:"isBWImg"`
}

// Adult holds adult and racy content scores
type Adult struct {
	IsAdultContent bool    `json:"isAdultContent"`
	IsRacyContent  bool    `json:"isRacyContent"`
	AdultScore     float64 `json:"adultScore"`
	RacyScore      float64 `json:"racyScore"`
}

// ImageType tells whether the image is clip art or a line drawing
type ImageType struct {
	ClipArtType     int `json:"clipArtType"`
	LineDrawingType int `json:"lineDrawingType"`
}

// Metadata describes the image as seen by the service
type Metadata struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

// AnalysisResult is the structured response of an image analysis
type AnalysisResult struct {
	RequestID   string      `json:"requestId,omitempty"`
	Description Description `json:"description"`
	Tags        []Tag       `json:"tags,omitempty"`
	Categories  []Category  `json:"categories,omitempty"`
	Faces       []Face      `json:"faces,omitempty"`
	Color       *Color      `json:"color,omitempty"`
	Adult       *Adult      `json:"adult,omitempty"`
	ImageType   *ImageType  `json:"imageType,omitempty"`
	Metadata    *Metadata   `json:"metadata,omitempty"`
}

// OcrWord is a recognized word
type OcrWord struct {
	BoundingBox string `json:"boundingBox"`
	Text        string `json:"text"`
}

// OcrLine is a line of recognized words
type OcrLine struct {
	BoundingBox string    `json:"boundingBox"`
	Words       []OcrWord `json:"words"`
}

// OcrRegion is a block of text lines
type OcrRegion struct {
	BoundingBox string    `json:"boundingBox"`
	Lines       []OcrLine `json:"lines"`
}

// OcrResult holds the text regions recognized in an image
type OcrResult struct {
	Language    string      `json:"language"`
	TextAngle   float64     `json:"textAngle,omitempty"`
	Orientation string      `json:"orientation,omitempty"`
	Regions     []OcrRegion `json:"regions"`
}

// Text returns the recognized text, one line per OCR line
func (o *OcrResult) Text() string {
	if o == nil {
		return ""
	}
	var lines []string
	for _, region := range o.Regions {
		for _, line := range region.Lines {
			words := make([]string, 0, len(line.Words))
			for _, w := range line.Words {
				words = append(words, w.Text)
			}
			lines = append(lines, strings.Join(words, " "))
		}
	}
	return strings.Join(lines, "\n")
}

// LinesToOcr builds a single-region OcrResult from plain text lines
func LinesToOcr(language string, lines []string) *OcrResult {
	result := &OcrResult{Language: language, Regions: []OcrRegion{}}
	region := OcrRegion{}
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		line := OcrLine{}
		for _, w := range strings.Fields(l) {
			line.Words = append(line.Words, OcrWord{Text: w})
		}
		region.Lines = append(region.Lines, line)
	}
	if len(region.Lines) > 0 {
		result.Regions = append(result.Regions, region)
	}
	return result
}
