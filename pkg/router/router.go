package router

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Group is a semantic partition of the channel space. Every group is
// materialized as one wide table per entity.
type Group string

const (
	GroupAuxiliary  Group = "auxiliary_systems"
	GroupEngine     Group = "engine_generator"
	GroupNavigation Group = "navigation_ship"
)

// Groups returns all table groups in load order.
func Groups() []Group {
	return []Group{GroupAuxiliary, GroupEngine, GroupNavigation}
}

// Router holds the static channel→group mapping loaded at startup.
// It is immutable after Load and safe for concurrent use.
type Router struct {
	byChannel map[string]Group
	byGroup   map[Group][]string
}

// Load builds a Router from one membership file per group. Each file holds one
// channel identifier per line; blank lines and #-comments are ignored.
// Two configurations are load errors, each reported listing every offender
// rather than silently letting the last file win:
//   - a channel appearing in more than one group
//   - two distinct channels whose ColumnName collapses to the same column,
//     which would make one overwrite the other in the wide row
func Load(logger *zap.Logger, files map[Group]string) (*Router, error) {
	r := &Router{
		byChannel: make(map[string]Group),
		byGroup:   make(map[Group][]string),
	}

	var duplicates, collisions []string
	byColumn := make(map[string]string)
	for _, group := range Groups() {
		path, ok := files[group]
		if !ok {
			return nil, fmt.Errorf("no membership file configured for group %s", group)
		}

		channels, err := loadChannelFile(path)
		if err != nil {
			return nil, fmt.Errorf("load group %s: %w", group, err)
		}

		for _, ch := range channels {
			if prev, exists := r.byChannel[ch]; exists {
				duplicates = append(duplicates, fmt.Sprintf("%s (in %s and %s)", ch, prev, group))
				continue
			}
			col := ColumnName(ch)
			if prev, exists := byColumn[col]; exists {
				collisions = append(collisions, fmt.Sprintf("%s and %s both map to column %s", prev, ch, col))
				continue
			}
			byColumn[col] = ch
			r.byChannel[ch] = group
			r.byGroup[group] = append(r.byGroup[group], ch)
		}

		logger.Info("Loaded channel group",
			zap.String("group", string(group)),
			zap.String("file", path),
			zap.Int("channels", len(channels)),
		)
	}

	if len(duplicates) > 0 {
		sort.Strings(duplicates)
		return nil, fmt.Errorf("%d channels belong to more than one group: %s",
			len(duplicates), strings.Join(duplicates, "; "))
	}
	if len(collisions) > 0 {
		sort.Strings(collisions)
		return nil, fmt.Errorf("%d channel pairs collide on column names: %s",
			len(collisions), strings.Join(collisions, "; "))
	}

	for _, group := range Groups() {
		sort.Strings(r.byGroup[group])
	}

	logger.Info("Channel router ready", zap.Int("total_channels", len(r.byChannel)))
	return r, nil
}

func loadChannelFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var channels []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Repeats within one file are harmless, keep the first.
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		channels = append(channels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return channels, nil
}

// GroupOf returns the table group a channel belongs to. Unknown channels
// return ok=false; the source narrow table may carry channels outside the
// configured set and callers drop those silently.
func (r *Router) GroupOf(channel string) (Group, bool) {
	g, ok := r.byChannel[channel]
	return g, ok
}

// Channels returns the sorted channel identifiers of one group.
func (r *Router) Channels(group Group) []string {
	return r.byGroup[group]
}

// Len returns the total number of configured channels.
func (r *Router) Len() int {
	return len(r.byChannel)
}

// Columns returns the sorted destination column names of one group.
func (r *Router) Columns(group Group) []string {
	channels := r.byGroup[group]
	cols := make([]string, 0, len(channels))
	for _, ch := range channels {
		cols = append(cols, ColumnName(ch))
	}
	sort.Strings(cols)
	return cols
}

// ColumnName converts a channel identifier into its destination column name:
// slashes become underscores, runs collapse, leading/trailing stripped.
func ColumnName(channel string) string {
	col := strings.ReplaceAll(channel, "/", "_")
	for strings.Contains(col, "__") {
		col = strings.ReplaceAll(col, "__", "_")
	}
	return strings.Trim(col, "_")
}

// TableName returns the deterministic destination table for (group, entity).
func TableName(group Group, entityID string) string {
	return fmt.Sprintf("%s_%s", group, strings.ToLower(entityID))
}
