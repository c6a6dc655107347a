package config

import "time"

// demoCatalog returns the built-in demo product catalog used when the YAML
// source has no products configured.
func demoCatalog() map[string]ProductSeed {
	return map[string]ProductSeed{
		"PROD-001": {
			ID:          "PROD-001",
			SKU:         "BISC-001",
			Name:        "Chocochip Cookies",
			Description: "Delicious chocolate chip cookies, freshly baked",
			Price:       4.99,
			Category:    "Bakery/Cookies",
			Brand:       "HomeBaked",
			ImageURL:    "https://images.unsplash.com/photo-1499636136210-6f4ee915583e?w=400&h=400&fit=crop&q=80",
		},
		"PROD-002": {
			ID:          "PROD-002",
			SKU:         "STRAW-001",
			Name:        "Fresh Strawberries",
			Description: "Sweet and juicy fresh strawberries",
			Price:       4.49,
			Category:    "Produce/Fruits",
			Brand:       "FarmFresh",
			ImageURL:    "https://images.unsplash.com/photo-1464965911861-746a04b4bca6?w=400&h=400&fit=crop&q=80",
		},
		"PROD-003": {
			ID:          "PROD-003",
			SKU:         "CHIPS-001",
			Name:        "Classic Potato Chips",
			Description: "Crispy salted potato chips",
			Price:       3.79,
			Category:    "Snacks/Chips",
			Brand:       "CrunchTime",
			ImageURL:    "https://images.unsplash.com/photo-1566478989037-eec170784d0b?w=400&h=400&fit=crop&q=80",
		},
		"PROD-004": {
			ID:          "PROD-004",
			SKU:         "SW-CHIPS-001",
			Name:        "Baked Sweet Potato Chips",
			Description: "Healthy baked sweet potato chips",
			Price:       4.79,
			Category:    "Snacks/Chips",
			Brand:       "HealthyChoice",
			ImageURL:    "https://images.unsplash.com/photo-1626200655629-cbee9dc8f42e?w=400&h=400&fit=crop&q=80",
		},
		"PROD-005": {
			ID:          "PROD-005",
			SKU:         "O-COOKIES-001",
			Name:        "Classic Oat Cookies",
			Description: "Wholesome oatmeal cookies with raisins",
			Price:       5.99,
			Category:    "Bakery/Cookies",
			Brand:       "HomeBaked",
			ImageURL:    "https://images.unsplash.com/photo-1558961363-fa8fdf82db35?w=400&h=400&fit=crop&q=80",
		},
		"PROD-006": {
			ID:          "PROD-006",
			SKU:         "NUTRIBAR-001",
			Name:        "Nutri-Bar",
			Description: "Nutritious energy bar with nuts and fruits",
			Price:       2.99,
			Category:    "Snacks/Bars",
			Brand:       "EnergyPlus",
			ImageURL:    "https://images.unsplash.com/photo-1604480133435-25b9560f4294?w=400&h=400&fit=crop&q=80",
		},
	}
}

// demoPromocodes returns the built-in demo discount codes used when the YAML
// source has no codes configured.
func demoPromocodes() map[string]PromocodeSeed {
	welcomeMin := 20.0
	welcomeLimit := 100
	flashMin := 25.0
	flashCap := 10.0
	flashLimit := 50

	return map[string]PromocodeSeed{
		"SAVE10": {
			Code:          "SAVE10",
			Description:   "10% off your order",
			DiscountType:  "percentage",
			DiscountValue: 10.0,
			ValidFor:      Duration{Duration: 90 * 24 * time.Hour},
		},
		"WELCOME5": {
			Code:              "WELCOME5",
			Description:       "$5 off your first order",
			DiscountType:      "fixed_amount",
			DiscountValue:     5.0,
			MinPurchaseAmount: &welcomeMin,
			UsageLimit:        &welcomeLimit,
			ValidFor:          Duration{Duration: 60 * 24 * time.Hour},
		},
		"FLASH20": {
			Code:              "FLASH20",
			Description:       "Flash sale - 20% off (max $10 discount)",
			DiscountType:      "percentage",
			DiscountValue:     20.0,
			MaxDiscountAmount: &flashCap,
			MinPurchaseAmount: &flashMin,
			UsageLimit:        &flashLimit,
			ValidFor:          Duration{Duration: 7 * 24 * time.Hour},
		},
		"TESTFAIL": {
			Code:          "TESTFAIL",
			Description:   "Test promocode - triggers invalid signature for testing",
			DiscountType:  "percentage",
			DiscountValue: 5.0,
			ValidFor:      Duration{Duration: 365 * 24 * time.Hour},
		},
	}
}
