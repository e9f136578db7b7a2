package detect_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/MrWong99/glyphlens/pkg/provider/detect"
	"github.com/MrWong99/glyphlens/pkg/provider/detect/mock"
	"github.com/MrWong99/glyphlens/pkg/types"
)

func TestNewMulti_Empty(t *testing.T) {
	if _, err := detect.NewMulti(); !errors.Is(err, detect.ErrNoDetector) {
		t.Fatalf("err = %v, want ErrNoDetector", err)
	}
}

func TestMulti_Detect(t *testing.T) {
	t.Parallel()

	ocr := &mock.Provider{Result: types.DetectionResult{Text: "  SALIDA \n"}}
	yolo := &mock.Provider{Result: types.DetectionResult{Labels: []string{"person", "dog"}}}
	broken := &mock.Provider{Err: errors.New("model missing")}
	vision := &mock.Provider{Result: types.DetectionResult{Text: "EXIT", Labels: []string{"door"}}}

	m, err := detect.NewMulti(
		detect.Named{Name: "ocr", Provider: ocr},
		detect.Named{Name: "yolo", Provider: yolo},
		detect.Named{Name: "broken", Provider: broken},
		detect.Named{Name: "vision", Provider: vision},
	)
	if err != nil {
		t.Fatalf("NewMulti: %v", err)
	}

	frame := []byte{0xff, 0xd8, 0xff}
	got, err := m.Detect(context.Background(), frame)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	want := types.DetectionResult{Text: "SALIDA\nEXIT", Labels: []string{"person", "dog", "door"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Detect = %+v, want %+v", got, want)
	}
	for _, p := range []*mock.Provider{ocr, yolo, broken, vision} {
		if p.CallCount() != 1 {
			t.Errorf("member called %d times, want 1", p.CallCount())
		}
	}
	if names := m.Names(); !reflect.DeepEqual(names, []string{"ocr", "yolo", "broken", "vision"}) {
		t.Errorf("Names = %v", names)
	}
}

func TestMulti_AllFail(t *testing.T) {
	t.Parallel()

	m, _ := detect.NewMulti(
		detect.Named{Name: "a", Provider: &mock.Provider{Err: errors.New("a down")}},
		detect.Named{Name: "b", Provider: &mock.Provider{Err: errors.New("b down")}},
	)
	if _, err := m.Detect(context.Background(), nil); err == nil {
		t.Fatal("expected error when every detector fails")
	}
}

type closingDetector struct {
	mock.Provider
	closed bool
	err    error
}

func (c *closingDetector) Close() error {
	c.closed = true
	return c.err
}

func TestMulti_Close(t *testing.T) {
	t.Parallel()

	a := &closingDetector{}
	b := &closingDetector{err: errors.New("tesseract busy")}
	m, err := detect.NewMulti(
		detect.Named{Name: "a", Provider: a},
		detect.Named{Name: "plain", Provider: &mock.Provider{}},
		detect.Named{Name: "b", Provider: b},
	)
	if err != nil {
		t.Fatalf("NewMulti: %v", err)
	}
	err = m.Close()
	if !a.closed || !b.closed {
		t.Errorf("closed a=%v b=%v, want both", a.closed, b.closed)
	}
	if err == nil || !errors.Is(err, b.err) {
		t.Errorf("Close = %v, want b's error", err)
	}
}
