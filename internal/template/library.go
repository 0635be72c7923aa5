package template

import "github.com/querypilot/backend/internal/storage/models"

// DefaultTemplates seeds the template store on first boot. IDs are stable so
// re-seeding upserts instead of duplicating.
func DefaultTemplates() []models.QueryTemplate {
	return []models.QueryTemplate{
		{
			ID:              "select_all_rows",
			Name:            "Select all rows",
			IntentKeywords:  []string{"show all", "list all", "tampilkan semua", "semua data", "all rows"},
			ExampleQuestion: "show all documents",
			QueryPattern:    "SELECT {columns} FROM {table}",
			PatternType:     "select",
			TablesUsed:      []string{"documents"},
			Priority:        10,
			IsEnabled:       true,
		},
		{
			ID:              "select_filtered",
			Name:            "Select rows matching a filter",
			IntentKeywords:  []string{"where", "with", "filter", "dengan", "yang"},
			ExampleQuestion: "show documents where category is ai",
			QueryPattern:    "SELECT {columns} FROM {table}",
			PatternType:     "select",
			TablesUsed:      []string{"documents"},
			Priority:        20,
			IsEnabled:       true,
		},
		{
			ID:                "count_rows",
			Name:              "Count rows",
			IntentKeywords:    []string{"count", "how many", "berapa", "jumlah"},
			ExampleQuestion:   "how many documents are there",
			QueryPattern:      "SELECT COUNT(*) AS total FROM {table}",
			PatternType:       "aggregate",
			Priority:          30,
			IsEnabled:         true,
			IsPatternAgnostic: true,
		},
		{
			ID:                "count_grouped",
			Name:              "Count rows per group",
			IntentKeywords:    []string{"count by", "per", "group", "breakdown", "jumlah per"},
			ExampleQuestion:   "count documents per category",
			QueryPattern:      "SELECT {group_by_column}, COUNT(*) AS total FROM {table} GROUP BY {group_by_column} ORDER BY total DESC",
			PatternType:       "aggregate",
			Priority:          25,
			IsEnabled:         true,
			IsPatternAgnostic: true,
		},
		{
			ID:                "select_sorted_top",
			Name:              "Select top rows by a column",
			IntentKeywords:    []string{"top", "highest", "lowest", "latest", "terbaru", "tertinggi", "terendah"},
			ExampleQuestion:   "show the 10 most recent documents",
			QueryPattern:      "SELECT {columns} FROM {table} ORDER BY {order_by_column} {sort_direction}",
			PatternType:       "select",
			Priority:          20,
			IsEnabled:         true,
			IsPatternAgnostic: true,
		},
		{
			ID:                "select_where_in",
			Name:              "Select rows matching any listed value",
			IntentKeywords:    []string{"any of", "one of", "among", "salah satu", "termasuk"},
			ExampleQuestion:   "show documents in any of the ai or cloud categories",
			QueryPattern:      "SELECT {columns} FROM {table} WHERE {column} IN ({values})",
			PatternType:       "select_where_in",
			Priority:          15,
			IsEnabled:         true,
			IsPatternAgnostic: true,
		},
		{
			ID:                "average_column",
			Name:              "Average of a numeric column",
			IntentKeywords:    []string{"average", "mean", "rata-rata"},
			ExampleQuestion:   "what is the average score",
			QueryPattern:      "SELECT AVG({column}) AS average FROM {table}",
			PatternType:       "aggregate",
			Priority:          20,
			IsEnabled:         true,
			IsPatternAgnostic: true,
		},
		{
			ID:              "top_categories_cte",
			Name:            "Categories ranked by document count",
			IntentKeywords:  []string{"top categories", "most common category", "kategori terbanyak"},
			ExampleQuestion: "which categories have the most documents",
			QueryPattern: "WITH category_counts AS (SELECT category, COUNT(*) AS total FROM {table} GROUP BY category) " +
				"SELECT category, total FROM category_counts ORDER BY total DESC",
			PatternType: "aggregate",
			TablesUsed:  []string{"documents"},
			Priority:    15,
			IsEnabled:   true,
		},
	}
}
