package guard

import (
	"fmt"
	"os"
	"strings"
)

// DefaultSchema describes the sales hub tables for query generation.
const DefaultSchema = `dealers(dealer_id INTEGER PRIMARY KEY, name TEXT, country TEXT, city TEXT, size TEXT [small|medium|large], brands TEXT [comma-separated], avg_monthly_volume INTEGER, churn_risk_score REAL, joined_date TIMESTAMP)
employees(rep_id INTEGER PRIMARY KEY, name TEXT, role TEXT [sales_rep|manager|regional_director], region TEXT, quota REAL, start_date TIMESTAMP)
inventory(car_id INTEGER PRIMARY KEY, dealer_id INTEGER REFERENCES dealers, make TEXT, model TEXT, year INTEGER, acquisition_price REAL, expected_resale_price REAL, condition_score INTEGER [1-10], location TEXT, ingredients_date TIMESTAMP, days_in_stock INTEGER, status TEXT [available|sold|reserved])
transactions(transaction_id INTEGER PRIMARY KEY, date TIMESTAMP, dealer_id INTEGER REFERENCES dealers, car_id INTEGER REFERENCES inventory, sale_price REAL, margin REAL, channel TEXT [auction|direct|wholesale])
leads(lead_id INTEGER PRIMARY KEY, created_at TIMESTAMP, dealer_id INTEGER REFERENCES dealers, source TEXT, inquiry_text TEXT, response_time_minutes INTEGER, assigned_rep_id INTEGER REFERENCES employees, converted BOOLEAN, conversion_date TIMESTAMP, conversion_probability REAL)
kpi_snapshots(id INTEGER PRIMARY KEY, date TIMESTAMP, dealer_id INTEGER REFERENCES dealers, conversion_rate REAL, avg_ticket_size REAL, inventory_turnover REAL, forecast_accuracy REAL)`

// LoadSchema returns the schema description in path, or DefaultSchema when path is empty.
func LoadSchema(path string) (string, error) {
	if path == "" {
		return DefaultSchema, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read schema file: %w", err)
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "", fmt.Errorf("schema file %s is empty", path)
	}
	return s, nil
}
