package devserver

import (
	"context"
	"fmt"
)

var seedStatements = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY,
		month TEXT NOT NULL,
		order_date DATE NOT NULL,
		status TEXT NOT NULL,
		revenue REAL NOT NULL
	)`,
	`INSERT INTO orders (month, order_date, status, revenue) VALUES
		('January', '2024-01-15', 'shipped', 1200.50),
		('February', '2024-02-11', 'shipped', 980.00),
		('March', '2024-03-09', 'pending', 1430.25),
		('April', '2024-04-21', 'cancelled', 310.00),
		('May', '2024-05-02', 'shipped', 1675.75),
		('June', '2024-06-18', 'pending', 1520.00)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		city TEXT,
		signed_up DATE
	)`,
	`INSERT INTO customers (name, city, signed_up) VALUES
		('Ada Byron', 'London', '2023-11-02'),
		('Grace Hopper', 'New York', '2024-01-20'),
		('Linus Pauling', 'Portland', '2024-03-14'),
		('Mary Jackson', 'Hampton', '2024-05-30')`,
	`CREATE TABLE IF NOT EXISTS products (
		sku TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		category TEXT NOT NULL,
		price REAL NOT NULL
	)`,
	`INSERT OR IGNORE INTO products (sku, title, category, price) VALUES
		('A-100', 'Desk lamp', 'lighting', 39.90),
		('A-200', 'Floor lamp', 'lighting', 89.00),
		('B-100', 'Office chair', 'furniture', 249.00),
		('C-300', 'Notebook', 'stationery', 4.50)`,
}

// Seed creates demo tables and configures orders and customers as ready.
// products is left unconfigured so it shows up as available.
func (s *Server) Seed(ctx context.Context) error {
	existing, err := s.store.DatabaseTables(ctx)
	if err != nil {
		return err
	}
	for _, name := range existing {
		if name == "orders" {
			s.logger.Debug("demo tables already present")
			return nil
		}
	}

	for _, stmt := range seedStatements {
		if err := s.store.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to seed database: %w", err)
		}
	}
	for _, name := range []string{"orders", "customers"} {
		desc, err := s.analyze(ctx, name)
		if err != nil {
			return err
		}
		if err := s.store.Configure(ctx, name, desc); err != nil {
			return err
		}
	}
	s.logger.Info("seeded demo tables", "tables", []string{"orders", "customers", "products"})
	return nil
}
