package schema

var (
	Balance = TableSpec{
		Name: "balance",
		Columns: []string{
			"cnpj", "name", "cvm_code", "category", "final_accounting_date",
			"financial_statement", "subcategory", "value",
		},
	}
	Company = TableSpec{
		Name: "company",
		Columns: []string{
			"cnpj", "social_denomination", "commercial_denomination", "register_date",
			"constitution_date", "cancellation_date", "cancellation_reason", "situation",
			"situation_start_date", "cvm_code", "sector", "market", "category",
			"category_start_date", "issuer_situation", "issuer_situation_start_date",
			"addr_type", "public_space", "addr_complement", "neighborhood", "county", "st",
			"country", "zip", "std", "phone", "email", "resp_type", "resp_name",
			"resp_acting_start_date", "resp_public_space", "resp_addr_complement",
			"resp_neighbourhood", "resp_county", "resp_st", "resp_country", "resp_zip",
			"resp_std", "resp_phone", "resp_email", "cnpj_auditor", "auditor",
		},
	}
)
