package authority

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	apperrors "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
)

// Sheet tabs and their column layouts
const (
	// DeviceID | ProductID | Type | Active | ExpiresAt | LastSeenAt
	licensesTab = "licenses"
	// DeviceID | ProductID | ExpiresAt | AppVersion | CreatedAt
	demosTab = "demos"
	// DeviceID | ProductID | AppVersion | At
	heartbeatsTab = "heartbeats"

	sheetTimeLayout = time.RFC3339
)

// SheetsAuthority keeps license records in a Google spreadsheet. It has no
// push channel; Subscribe returns a stream that only closes.
type SheetsAuthority struct {
	svc     *sheets.Service
	sheetID string
	logger  *slog.Logger
	mu      sync.Mutex
}

// NewSheetsAuthority connects to the spreadsheet sheetID
func NewSheetsAuthority(ctx context.Context, sheetID string, logger *slog.Logger, opts ...option.ClientOption) (*SheetsAuthority, error) {
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return &SheetsAuthority{
		svc:     svc,
		sheetID: sheetID,
		logger:  logger.With(slog.String("component", "sheets_authority")),
	}, nil
}

func (s *SheetsAuthority) rows(ctx context.Context, op, tab string) ([][]interface{}, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.sheetID, tab+"!A:F").Context(ctx).Do()
	if err != nil {
		return nil, apperrors.NewNetworkError(op, err)
	}
	return resp.Values, nil
}

// find returns the 1-based sheet row of the device/product pair, or 0
func find(rows [][]interface{}, deviceID, productID string) int {
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		if cell(row, 0) == deviceID && cell(row, 1) == productID {
			return i + 1
		}
	}
	return 0
}

func cell(row []interface{}, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(row[i]))
}

func parseSheetTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(sheetTimeLayout, v)
	if err != nil {
		return nil
	}
	return &t
}

func formatSheetTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(sheetTimeLayout)
}

func licenseFromRow(row []interface{}) LicenseRecord {
	active, _ := strconv.ParseBool(cell(row, 3))
	return LicenseRecord{
		DeviceID:   cell(row, 0),
		ProductID:  cell(row, 1),
		Type:       LicenseType(cell(row, 2)),
		Active:     active,
		ExpiresAt:  parseSheetTime(cell(row, 4)),
		LastSeenAt: parseSheetTime(cell(row, 5)),
	}
}

func (s *SheetsAuthority) GetLicense(ctx context.Context, deviceID, productID string) (*LicenseRecord, error) {
	rows, err := s.rows(ctx, "get_license", licensesTab)
	if err != nil {
		return nil, err
	}
	idx := find(rows, deviceID, productID)
	if idx == 0 {
		return nil, nil
	}
	rec := licenseFromRow(rows[idx-1])
	return &rec, nil
}

func (s *SheetsAuthority) UpsertLicense(ctx context.Context, deviceID, productID string, fields LicenseFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.rows(ctx, "upsert_license", licensesTab)
	if err != nil {
		return err
	}

	idx := find(rows, deviceID, productID)
	lastSeen := ""
	if idx > 0 {
		lastSeen = cell(rows[idx-1], 5)
	}
	values := [][]interface{}{{
		deviceID, productID, string(fields.Type), strconv.FormatBool(fields.Active),
		formatSheetTime(fields.ExpiresAt), lastSeen,
	}}

	if idx == 0 {
		return s.append(ctx, "upsert_license", licensesTab+"!A:F", values)
	}
	return s.update(ctx, "upsert_license", fmt.Sprintf("%s!A%d:F%d", licensesTab, idx, idx), values)
}

func (s *SheetsAuthority) TouchLastSeen(ctx context.Context, deviceID, productID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.rows(ctx, "touch_last_seen", licensesTab)
	if err != nil {
		return err
	}
	idx := find(rows, deviceID, productID)
	if idx == 0 {
		return nil
	}
	return s.update(ctx, "touch_last_seen", fmt.Sprintf("%s!F%d", licensesTab, idx),
		[][]interface{}{{formatSheetTime(&at)}})
}

func (s *SheetsAuthority) AppendHeartbeat(ctx context.Context, hb Heartbeat) error {
	return s.append(ctx, "append_heartbeat", heartbeatsTab+"!A:D", [][]interface{}{{
		hb.DeviceID, hb.ProductID, hb.AppVersion, formatSheetTime(&hb.At),
	}})
}

func (s *SheetsAuthority) GetDemo(ctx context.Context, deviceID, productID string) (*DemoRecord, error) {
	rows, err := s.rows(ctx, "get_demo", demosTab)
	if err != nil {
		return nil, err
	}
	idx := find(rows, deviceID, productID)
	if idx == 0 {
		return nil, nil
	}
	row := rows[idx-1]
	demo := DemoRecord{DeviceID: deviceID, ProductID: productID, AppVersion: cell(row, 3)}
	if t := parseSheetTime(cell(row, 2)); t != nil {
		demo.ExpiresAt = *t
	}
	return &demo, nil
}

// UpsertDemo appends a demo row unless one already exists
func (s *SheetsAuthority) UpsertDemo(ctx context.Context, demo DemoRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.rows(ctx, "upsert_demo", demosTab)
	if err != nil {
		return err
	}
	if find(rows, demo.DeviceID, demo.ProductID) > 0 {
		return nil
	}
	return s.append(ctx, "upsert_demo", demosTab+"!A:E", [][]interface{}{{
		demo.DeviceID, demo.ProductID, formatSheetTime(&demo.ExpiresAt), demo.AppVersion,
		time.Now().UTC().Format(sheetTimeLayout),
	}})
}

func (s *SheetsAuthority) Subscribe(ctx context.Context, deviceID string) (<-chan ChangeEvent, error) {
	ch := make(chan ChangeEvent)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

// SetActive flips the Active column of an existing row
func (s *SheetsAuthority) SetActive(ctx context.Context, deviceID, productID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.rows(ctx, "set_active", licensesTab)
	if err != nil {
		return err
	}
	idx := find(rows, deviceID, productID)
	if idx == 0 {
		return apperrors.ErrRecordNotFound
	}
	return s.update(ctx, "set_active", fmt.Sprintf("%s!D%d", licensesTab, idx),
		[][]interface{}{{strconv.FormatBool(active)}})
}

func (s *SheetsAuthority) ListLicenses(ctx context.Context) ([]LicenseRecord, error) {
	rows, err := s.rows(ctx, "list_licenses", licensesTab)
	if err != nil {
		return nil, err
	}
	out := make([]LicenseRecord, 0, len(rows))
	for i, row := range rows {
		if i == 0 || cell(row, 0) == "" {
			continue
		}
		out = append(out, licenseFromRow(row))
	}
	return out, nil
}

func (s *SheetsAuthority) update(ctx context.Context, op, rng string, values [][]interface{}) error {
	_, err := s.svc.Spreadsheets.Values.Update(s.sheetID, rng, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return apperrors.NewNetworkError(op, err)
	}
	return nil
}

func (s *SheetsAuthority) append(ctx context.Context, op, rng string, values [][]interface{}) error {
	_, err := s.svc.Spreadsheets.Values.Append(s.sheetID, rng, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return apperrors.NewNetworkError(op, err)
	}
	return nil
}
