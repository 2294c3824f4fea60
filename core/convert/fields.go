package convert

import (
	"fmt"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/jackc/pgx/v5/pgtype"
)

// appendFunc parses one non-null field and appends it to a column builder.
type appendFunc func(b array.Builder, field string) error

func appenderFor(dt arrow.DataType) (appendFunc, error) {
	switch dt.ID() {
	case arrow.BOOL:
		return appendBool, nil
	case arrow.INT16:
		return appendInt16, nil
	case arrow.INT32:
		return appendInt32, nil
	case arrow.INT64:
		return appendInt64, nil
	case arrow.FLOAT32:
		return appendFloat32, nil
	case arrow.FLOAT64:
		return appendFloat64, nil
	case arrow.STRING:
		return appendString, nil
	case arrow.DATE32:
		return appendDate32, nil
	case arrow.TIME64:
		unit := dt.(*arrow.Time64Type).Unit
		return func(b array.Builder, field string) error {
			return appendTime64(b, field, unit)
		}, nil
	case arrow.TIMESTAMP:
		ts := dt.(*arrow.TimestampType)
		if ts.Unit != arrow.Microsecond {
			return nil, fmt.Errorf("unsupported timestamp unit %s", ts.Unit)
		}
		if ts.TimeZone == "" {
			return appendTimestamp, nil
		}
		return appendTimestamptz, nil
	default:
		return nil, fmt.Errorf("unsupported column type %s", dt)
	}
}

func appendBool(b array.Builder, field string) error {
	v, err := strconv.ParseBool(field)
	if err != nil {
		return err
	}
	b.(*array.BooleanBuilder).Append(v)
	return nil
}

func appendInt16(b array.Builder, field string) error {
	v, err := strconv.ParseInt(field, 10, 16)
	if err != nil {
		return err
	}
	b.(*array.Int16Builder).Append(int16(v))
	return nil
}

func appendInt32(b array.Builder, field string) error {
	v, err := strconv.ParseInt(field, 10, 32)
	if err != nil {
		return err
	}
	b.(*array.Int32Builder).Append(int32(v))
	return nil
}

func appendInt64(b array.Builder, field string) error {
	v, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return err
	}
	b.(*array.Int64Builder).Append(v)
	return nil
}

// ParseFloat accepts PostgreSQL's NaN and Infinity spellings. A finite text
// value that overflows the target width is an error.
func appendFloat32(b array.Builder, field string) error {
	v, err := strconv.ParseFloat(field, 32)
	if err != nil {
		return err
	}
	b.(*array.Float32Builder).Append(float32(v))
	return nil
}

func appendFloat64(b array.Builder, field string) error {
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return err
	}
	b.(*array.Float64Builder).Append(v)
	return nil
}

func appendString(b array.Builder, field string) error {
	b.(*array.StringBuilder).Append(field)
	return nil
}

func appendDate32(b array.Builder, field string) error {
	var d pgtype.Date
	if err := d.Scan(field); err != nil {
		return err
	}
	if d.InfinityModifier != pgtype.Finite {
		return fmt.Errorf("%s date has no date32 representation", d.InfinityModifier)
	}
	b.(*array.Date32Builder).Append(arrow.Date32FromTime(d.Time))
	return nil
}

func appendTime64(b array.Builder, field string, unit arrow.TimeUnit) error {
	var t pgtype.Time
	if err := t.Scan(field); err != nil {
		return err
	}
	v := t.Microseconds
	if unit == arrow.Nanosecond {
		v *= 1000
	}
	b.(*array.Time64Builder).Append(arrow.Time64(v))
	return nil
}

func appendTimestamp(b array.Builder, field string) error {
	var ts pgtype.Timestamp
	if err := ts.Scan(field); err != nil {
		return err
	}
	if ts.InfinityModifier != pgtype.Finite {
		return fmt.Errorf("%s timestamp has no timestamp[us] representation", ts.InfinityModifier)
	}
	b.(*array.TimestampBuilder).Append(arrow.Timestamp(ts.Time.UnixMicro()))
	return nil
}

func appendTimestamptz(b array.Builder, field string) error {
	var ts pgtype.Timestamptz
	if err := ts.Scan(field); err != nil {
		return err
	}
	if ts.InfinityModifier != pgtype.Finite {
		return fmt.Errorf("%s timestamp has no timestamp[us] representation", ts.InfinityModifier)
	}
	b.(*array.TimestampBuilder).Append(arrow.Timestamp(ts.Time.UnixMicro()))
	return nil
}
