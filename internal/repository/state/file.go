package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/loadshed/internal/config"
	"github.com/oshokin/loadshed/internal/domain/shed"
	"github.com/oshokin/loadshed/internal/gateway/sim"
)

// Repository defines persistence operations for simulated points.
type Repository interface {
	Load(ctx context.Context) ([]sim.PointState, error)
	Save(ctx context.Context, points []sim.PointState) error
}

// FileRepository persists simulated points to a JSON file on disk.
// JSON is produced and consumed via protobuf JSON (protojson) over a
// structpb.Struct, the same message family the gateway API speaks.
type FileRepository struct {
	// path is the filesystem location of the JSON state file.
	path string
	// mu protects concurrent access to the state file.
	mu sync.Mutex
}

// State file field names.
const (
	fieldSavedAt = "saved_at"
	fieldPoints  = "points"
	fieldAddress = "address"
	fieldPoint   = "point"
	fieldDefault = "default"
	fieldLevels  = "levels"
)

var (
	// ErrNotFound is returned when the state file does not exist yet.
	ErrNotFound = errors.New("state not found")
	// errMalformed is returned for state files that do not describe points.
	errMalformed = errors.New("malformed state file")
)

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the points from disk.
func (r *FileRepository) Load(_ context.Context) ([]sim.PointState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read state file: %w", err)
	}

	var doc structpb.Struct
	if err = protojson.Unmarshal(contents, &doc); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}

	return fromStruct(&doc)
}

// Save writes the points to disk using JSON representation.
func (r *FileRepository) Save(_ context.Context, points []sim.PointState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := toStruct(points, time.Now())
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	marshalOptions := protojson.MarshalOptions{
		Multiline: true,
	}

	data, err := marshalOptions.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err = os.WriteFile(r.path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	return nil
}

// fromStruct converts the stored document into simulator points.
func fromStruct(doc *structpb.Struct) ([]sim.PointState, error) {
	list := doc.GetFields()[fieldPoints].GetListValue()
	if list == nil {
		return nil, nil
	}

	points := make([]sim.PointState, 0, len(list.GetValues()))

	for _, item := range list.GetValues() {
		fields := item.GetStructValue().GetFields()
		if fields == nil {
			return nil, fmt.Errorf("%w: point entry is not an object", errMalformed)
		}

		st := sim.PointState{
			ID: sim.PointID{
				Address: fields[fieldAddress].GetStringValue(),
				Point:   fields[fieldPoint].GetStringValue(),
			},
		}

		if st.ID.Address == "" || st.ID.Point == "" {
			return nil, fmt.Errorf("%w: point entry without address or point", errMalformed)
		}

		if text := fields[fieldDefault].GetStringValue(); text != "" {
			value, err := shed.ParseValue(text)
			if err != nil {
				return nil, fmt.Errorf("%s default: %w", st.ID, err)
			}

			st.Default = value
		}

		for level, v := range fields[fieldLevels].GetStructValue().GetFields() {
			priority, err := strconv.Atoi(level)
			if err != nil || priority < shed.MinPriority || priority > shed.MaxPriority {
				return nil, fmt.Errorf("%w: %s: priority %q", errMalformed, st.ID, level)
			}

			value, err := shed.ParseValue(v.GetStringValue())
			if err != nil {
				return nil, fmt.Errorf("%s priority %d: %w", st.ID, priority, err)
			}

			st.Levels[priority-1] = value
		}

		points = append(points, st)
	}

	return points, nil
}

// toStruct converts simulator points into the stored document.
func toStruct(points []sim.PointState, savedAt time.Time) (*structpb.Struct, error) {
	sorted := slices.Clone(points)
	slices.SortFunc(sorted, func(a, b sim.PointState) int {
		if a.ID.Address != b.ID.Address {
			if a.ID.Address < b.ID.Address {
				return -1
			}

			return 1
		}

		switch {
		case a.ID.Point < b.ID.Point:
			return -1
		case a.ID.Point > b.ID.Point:
			return 1
		default:
			return 0
		}
	})

	items := make([]any, 0, len(sorted))

	for _, st := range sorted {
		levels := make(map[string]any)

		for i, v := range st.Levels {
			if !v.IsZero() {
				levels[strconv.Itoa(i+1)] = v.String()
			}
		}

		item := map[string]any{
			fieldAddress: st.ID.Address,
			fieldPoint:   st.ID.Point,
			fieldLevels:  levels,
		}

		if !st.Default.IsZero() {
			item[fieldDefault] = st.Default.String()
		}

		items = append(items, item)
	}

	return structpb.NewStruct(map[string]any{
		fieldSavedAt: savedAt.UTC().Format(time.RFC3339Nano),
		fieldPoints:  items,
	})
}
