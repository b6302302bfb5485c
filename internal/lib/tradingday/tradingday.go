// Package tradingday вычисляет операционный календарный день, по которому
// сбрасываются дневные квоты.
package tradingday

import (
	"fmt"
	"time"

	// Часовые пояса нужны и в контейнерах без системной tzdata.
	_ "time/tzdata"
)

// DefaultTimezone часовой пояс по умолчанию.
const DefaultTimezone = "America/New_York"

// Clock возвращает текущую дату в заданном часовом поясе.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// New создаёт Clock для часового пояса name. Пустое имя означает DefaultTimezone.
func New(name string) (*Clock, error) {
	const op = "tradingday.New"
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Clock{loc: loc, now: time.Now}, nil
}

// WithNow подменяет источник времени, используется в тестах.
func (c *Clock) WithNow(now func() time.Time) *Clock {
	return &Clock{loc: c.loc, now: now}
}

// Today календарная дата текущего момента в операционном часовом поясе.
// Возвращается полночь по UTC, чтобы дату можно было без сдвигов писать в колонку DATE.
func (c *Clock) Today() time.Time {
	return DateOf(c.now(), c.loc)
}

// DateOf календарная дата момента t в часовом поясе loc.
func DateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
