package csvimport

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrimsHeadersAndValues(t *testing.T) {
	input := "\ufeff Product Name , Quantity (kg)\n  kale ,\" 5 \"\n\n\n"
	f, err := Parse("inv.csv", strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []string{"Product Name", "Quantity (kg)"}, f.Headers)
	require.Len(t, f.Rows, 1)
	assert.Equal(t, "kale", f.Rows[0].Get("Product Name"))
	assert.Equal(t, "5", f.Rows[0].Get("Quantity (kg)"))
	assert.Equal(t, 1, f.Rows[0].Index)
	assert.False(t, f.Rows[0].Mismatched())
}

func TestParseSkipsBlankLinesAndFlagsMismatch(t *testing.T) {
	input := "Product Name,Quantity (kg)\nkale,5\n,\nbeet\nchard,1,extra\n"
	f, err := Parse("inv.csv", strings.NewReader(input))
	require.NoError(t, err)

	require.Len(t, f.Rows, 3)
	assert.False(t, f.Rows[0].Mismatched())
	assert.True(t, f.Rows[1].Mismatched())
	assert.Equal(t, "", f.Rows[1].Get("Quantity (kg)"))
	assert.True(t, f.Rows[2].Mismatched())
}

func TestParseRejectsBinaryInput(t *testing.T) {
	_, err := Parse("photo.jpg", strings.NewReader("\xff\xd8\xff\xe0\x00\x10JFIF"))
	require.Error(t, err)
	assert.Equal(t, KindParse, KindOf(err))
}

func TestParseRejectsBrokenQuoting(t *testing.T) {
	_, err := Parse("bad.csv", strings.NewReader("a,b\n\"unterminated,1\n"))
	require.Error(t, err)
	assert.Equal(t, KindParse, KindOf(err))
}

func TestParseRejectsEmptyFile(t *testing.T) {
	_, err := Parse("empty.csv", strings.NewReader(""))
	assert.Equal(t, KindParse, KindOf(err))
}

func TestParseHonoursMaxRows(t *testing.T) {
	_, err := Parse("big.csv", strings.NewReader("a\n1\n2\n3\n"), WithMaxRows(2))
	assert.Equal(t, KindParse, KindOf(err))
}

func TestParseWithDelimiter(t *testing.T) {
	f, err := Parse("semi.csv", strings.NewReader("a;b\n1;2\n"), WithDelimiter(';'))
	require.NoError(t, err)
	assert.Equal(t, "2", f.Rows[0].Get("b"))
}

func parseOne(t *testing.T, input string) Row {
	t.Helper()
	f, err := Parse("inv.csv", strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, f.Rows, 1)
	return f.Rows[0]
}

func TestValidateInventoryQuantity(t *testing.T) {
	rec, err := Validate("inv.csv", parseOne(t, "Product Name,Quantity (kg)\nkale,10000000\n"), InventoryRules)
	require.NoError(t, err)
	assert.EqualValues(t, 10_000_000, rec.Quantity)

	for _, raw := range []string{"-1", "10000001", "abc", "2.5"} {
		_, err := Validate("inv.csv", parseOne(t, "Product Name,Quantity (kg)\nkale,"+raw+"\n"), InventoryRules)
		require.Error(t, err, raw)

		var ie *Error
		require.True(t, errors.As(err, &ie))
		assert.Equal(t, KindValidation, ie.Kind)
		assert.Equal(t, "kale", ie.Product)
		assert.Contains(t, ie.Error(), "kale")
		assert.Contains(t, ie.Error(), "inv.csv")
	}
}

func TestValidateRequiredFields(t *testing.T) {
	_, err := Validate("c.csv", parseOne(t, "Company Name,Email,Phone,Address\nAcme,,555,1 Road\n"), CustomerRules)
	var ie *Error
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, ColEmail, ie.Field)
	assert.Equal(t, 1, ie.Row)
}

func TestValidateRejectsMismatchedRow(t *testing.T) {
	_, err := Validate("inv.csv", parseOne(t, "Product Name,Quantity (kg)\nkale,5,extra\n"), InventoryRules)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestValidateInvalidDateIsAbsent(t *testing.T) {
	rec, err := Validate("inv.csv", parseOne(t, "Product Name,Quantity (kg),Created Date,Last Updated Date\nkale,5,not a date,2024-03-01\n"), InventoryRules)
	require.NoError(t, err)
	assert.Nil(t, rec.Date(ColCreatedDate))
	require.NotNil(t, rec.Date(ColLastUpdatedDate))
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *rec.Date(ColLastUpdatedDate))

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, now, DateOr(rec.Date(ColCreatedDate), now))
}

func TestValidateCounts(t *testing.T) {
	rec, err := Validate("p.csv", parseOne(t, "Company Name,Pickup Date,Empty Bins,Filled Bins\nAcme,2024-05-01,3,\n"), PickupRules)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Count(ColEmptyBins))
	assert.Equal(t, 0, rec.Count(ColFilledBins))

	_, err = Validate("p.csv", parseOne(t, "Company Name,Pickup Date,Empty Bins\nAcme,2024-05-01,-3\n"), PickupRules)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestValidateCustomCeiling(t *testing.T) {
	_, err := Validate("inv.csv", parseOne(t, "Product Name,Quantity (kg)\nkale,11\n"), InventoryRules.WithCeiling(10))
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestCheckHeaders(t *testing.T) {
	f, err := Parse("inv.csv", strings.NewReader("Product Name\nkale\n"))
	require.NoError(t, err)
	err = CheckHeaders(f, InventoryRules)
	var ie *Error
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, ColQuantity, ie.Field)
}

func TestParseDateLayouts(t *testing.T) {
	for _, raw := range []string{"2024-03-01", "03/01/2024", "3/1/2024", "2024/03/01", "2024-03-01T00:00:00Z", "2024-03-01 00:00:00"} {
		got := ParseDate(raw)
		require.NotNil(t, got, raw)
		assert.Equal(t, "2024-03-01", got.Format("2006-01-02"), raw)
	}
	assert.Nil(t, ParseDate(""))
	assert.Nil(t, ParseDate("yesterday"))
}

func TestProgressIsMonotonicAndCapped(t *testing.T) {
	var seen []Snapshot
	p := NewProgress(func(s Snapshot) { seen = append(seen, s) })
	assert.Equal(t, StateIdle, p.Snapshot().State)

	p.Start(3)
	p.Advance(1)
	p.Advance(1)
	p.Advance(5)
	p.Succeed()

	last := -1
	for _, s := range seen {
		assert.GreaterOrEqual(t, s.Percent, last)
		assert.LessOrEqual(t, s.Percent, 100)
		last = s.Percent
	}
	final := p.Snapshot()
	assert.Equal(t, StateSucceeded, final.State)
	assert.Equal(t, 100, final.Percent)
}

func TestProgressFreezesOnFailure(t *testing.T) {
	p := NewProgress(nil)
	p.Start(4)
	p.Advance(1)
	p.Fail("row 2 broke")
	p.Advance(2)
	p.Succeed()

	s := p.Snapshot()
	assert.Equal(t, StateFailed, s.State)
	assert.Equal(t, 25, s.Percent)
	assert.Equal(t, "row 2 broke", s.Message)
}

func TestProgressEmptyBatch(t *testing.T) {
	p := NewProgress(nil)
	p.Start(0)
	p.Succeed()
	assert.Equal(t, 100, p.Snapshot().Percent)
}

func TestErrorFormatting(t *testing.T) {
	err := &Error{Kind: KindCeiling, File: "inv.csv", Row: 4, Product: "kale", Message: "exceeds 10000000"}
	assert.Equal(t, "ceiling_violation in inv.csv row 4: exceeds 10000000", err.Error())
	assert.Equal(t, "quantity_ceiling_exceeded", KindCeiling.Code())
	assert.Equal(t, KindBackend, KindOf(errors.New("boom")))
}
