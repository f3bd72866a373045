package task

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"ocrstudio/internal/progress"
)

type FileFormat string

const (
	FormatText FileFormat = "TEXT"
	FormatPDF  FileFormat = "PDF"
	FormatHOCR FileFormat = "HOCR"
)

// Extension is the output file extension, without the dot.
func (f FileFormat) Extension() string {
	switch f {
	case FormatPDF:
		return "pdf"
	case FormatHOCR:
		return "hocr"
	default:
		return "txt"
	}
}

// RenderedFormat is the tesseract config name producing this format.
func (f FileFormat) RenderedFormat() string {
	switch f {
	case FormatPDF:
		return "pdf"
	case FormatHOCR:
		return "hocr"
	default:
		return "txt"
	}
}

func (f FileFormat) Valid() bool {
	return f == FormatText || f == FormatPDF || f == FormatHOCR
}

// OcrEngineMode mirrors tesseract --oem values.
type OcrEngineMode int

const (
	EngineLegacyOnly OcrEngineMode = iota
	EngineLSTMOnly
	EngineLegacyLSTM
	EngineDefault
)

// PageSegmentationMode mirrors tesseract --psm values.
type PageSegmentationMode int

const (
	PSMOsdOnly PageSegmentationMode = iota
	PSMAutoOsd
	PSMAutoOnly
	PSMAuto
	PSMSingleColumn
	PSMSingleBlockVertText
	PSMSingleBlock
	PSMSingleLine
	PSMSingleWord
	PSMCircleWord
	PSMSingleChar
	PSMSparseText
	PSMSparseTextOsd
	PSMRawLine
)

type OcrConfig struct {
	Language             string               `json:"language"`
	OcrEngineMode        OcrEngineMode        `json:"ocr_engine_mode"`
	PageSegmentationMode PageSegmentationMode `json:"page_segmentation_mode"`
	PreProcessing        bool                 `json:"pre_processing"`
	MergeDocuments       bool                 `json:"merge_documents"`
	FileFormat           FileFormat           `json:"file_format"`
}

// DefaultOcrConfig matches what a task gets when the caller does not specify one.
func DefaultOcrConfig(language string) OcrConfig {
	return OcrConfig{
		Language:             language,
		OcrEngineMode:        EngineDefault,
		PageSegmentationMode: PSMAuto,
		FileFormat:           FormatText,
	}
}

func (c OcrConfig) Validate() error {
	if c.Language == "" {
		return fmt.Errorf("%w: empty language", ErrInvalidConfig)
	}
	if c.OcrEngineMode < EngineLegacyOnly || c.OcrEngineMode > EngineDefault {
		return fmt.Errorf("%w: ocr engine mode %d", ErrInvalidConfig, c.OcrEngineMode)
	}
	if c.PageSegmentationMode < PSMOsdOnly || c.PageSegmentationMode > PSMRawLine {
		return fmt.Errorf("%w: page segmentation mode %d", ErrInvalidConfig, c.PageSegmentationMode)
	}
	if !c.FileFormat.Valid() {
		return fmt.Errorf("%w: file format %q", ErrInvalidConfig, c.FileFormat)
	}
	return nil
}

type SchedulerConfig struct {
	StartDateTime *time.Time `json:"start_date_time,omitempty"`
}

type OutDocument struct {
	OutputFileName string `json:"output_file_name"`
}

type Document struct {
	OriginalFileName   string       `json:"original_file_name"`
	RandomizedFileName string       `json:"randomized_file_name"`
	Type               string       `json:"type,omitempty"`
	OutDocument        *OutDocument `json:"out_document,omitempty"`
}

type Task struct {
	ID                 uuid.UUID         `json:"id"`
	Description        string            `json:"description,omitempty"`
	InDocuments        []Document        `json:"in_documents"`
	MergedDocumentName string            `json:"merged_document_name,omitempty"`
	OcrConfig          OcrConfig         `json:"ocr_config"`
	SchedulerConfig    SchedulerConfig   `json:"scheduler_config"`
	OcrProgress        progress.Snapshot `json:"ocr_progress"`
	CreatedAt          time.Time         `json:"created_at"`
}

// SortedDocuments returns the input documents ordered by original file name.
// Execution and merging always use this order.
func (t *Task) SortedDocuments() []*Document {
	docs := make([]*Document, len(t.InDocuments))
	for i := range t.InDocuments {
		docs[i] = &t.InDocuments[i]
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].OriginalFileName < docs[j].OriginalFileName
	})
	return docs
}

// AddDocument appends an input document. Only allowed before the task is scheduled.
func (t *Task) AddDocument(d Document) error {
	if t.OcrProgress.Status != progress.StatusCreated {
		return fmt.Errorf("%w: task %s is %s", ErrIllegalState, t.ID, t.OcrProgress.Status)
	}
	t.InDocuments = append(t.InDocuments, d)
	return nil
}

// RemoveDocument drops the document with the given original name and returns it.
func (t *Task) RemoveDocument(originalFileName string) (Document, error) {
	if t.OcrProgress.Status != progress.StatusCreated {
		return Document{}, fmt.Errorf("%w: task %s is %s", ErrIllegalState, t.ID, t.OcrProgress.Status)
	}
	for i, d := range t.InDocuments {
		if d.OriginalFileName == originalFileName {
			t.InDocuments = append(t.InDocuments[:i], t.InDocuments[i+1:]...)
			return d, nil
		}
	}
	return Document{}, ErrDocumentNotFound
}

// FindDocument looks up an input document by its randomized name.
func (t *Task) FindDocument(randomizedFileName string) (*Document, bool) {
	for i := range t.InDocuments {
		if t.InDocuments[i].RandomizedFileName == randomizedFileName {
			return &t.InDocuments[i], true
		}
	}
	return nil, false
}

// RunResult is what one OCR run writes back to its task.
type RunResult struct {
	// Outputs is keyed by randomized input name. Documents without an entry lose
	// the artifact of any earlier run.
	Outputs            map[string]*OutDocument
	MergedDocumentName string
	Progress           progress.Snapshot
}

// ApplyRunResult replaces the outputs, merged artifact and progress of the task.
func (t *Task) ApplyRunResult(r RunResult) {
	for i := range t.InDocuments {
		t.InDocuments[i].OutDocument = r.Outputs[t.InDocuments[i].RandomizedFileName]
	}
	t.MergedDocumentName = r.MergedDocumentName
	t.OcrProgress = r.Progress
}
