package fieldmap

// productEntries is the mapping for the product collection table.
//
// Entries whose LocalPath begins with "alias." exist only as fallback
// targets: they carry the English header names that appeared in earlier
// revisions of the table, referenced by FallbackFieldID from the primary
// entries.
var productEntries = []Entry{
	{LocalPath: "id", PrimaryName: "序号", FieldID: "fldOs6qCm2", FallbackFieldID: "fldTx8wQn1"},
	{LocalPath: "alias.id", PrimaryName: "Sequence No.", FieldID: "fldTx8wQn1"},
	{LocalPath: "secondaryId", PrimaryName: "商品条码", FieldID: "fldBc3Lp9s"},
	{LocalPath: "name", PrimaryName: "品名", FieldID: "fldNm1Kd74", FallbackFieldID: "fldEn5Rv20"},
	{LocalPath: "alias.name", PrimaryName: "Product Name", FieldID: "fldEn5Rv20"},
	{LocalPath: "category.primary", PrimaryName: "品类一级", FieldID: "fldCt1Aa83", FallbackFieldID: "fldCt0En55"},
	{LocalPath: "alias.category.primary", PrimaryName: "Category L1", FieldID: "fldCt0En55"},
	{LocalPath: "category.secondary", PrimaryName: "品类二级", FieldID: "fldCt2Bb47"},
	{LocalPath: "price.normal", PrimaryName: "正常售价", FieldID: "fldPr1Nm62", FallbackFieldID: "fldPr0En38"},
	{LocalPath: "alias.price.normal", PrimaryName: "Normal Price", FieldID: "fldPr0En38"},
	{LocalPath: "price.discount", PrimaryName: "优惠到手价", FieldID: "fldPr2Ds91"},
	{LocalPath: "origin.country", PrimaryName: "产地（国家）", FieldID: "fldOg1Cn16"},
	{LocalPath: "origin.province", PrimaryName: "产地（省）", FieldID: "fldOg2Pv08"},
	{LocalPath: "origin.city", PrimaryName: "产地（市）", FieldID: "fldOg3Ct44"},
	{LocalPath: "platform", PrimaryName: "采集平台", FieldID: "fldPf1Sr29", FallbackFieldID: "fldPf0En73"},
	{LocalPath: "alias.platform", PrimaryName: "Platform", FieldID: "fldPf0En73"},
	{LocalPath: "specification", PrimaryName: "规格", FieldID: "fldSp1Gg52"},
	{LocalPath: "flavor", PrimaryName: "口味", FieldID: "fldFl1Kw61"},
	{LocalPath: "mixFlag", PrimaryName: "单混", FieldID: "fldMx1Dh35"},
	{LocalPath: "manufacturer", PrimaryName: "生产厂家", FieldID: "fldMf1Sc97"},
	{LocalPath: "notes", PrimaryName: "备注", FieldID: "fldNt1Bz24"},
	{LocalPath: "images.front", PrimaryName: "正面图片", FieldID: "fldIm1Zm70"},
	{LocalPath: "images.back", PrimaryName: "背面图片", FieldID: "fldIm2Bm13"},
	{LocalPath: "images.label", PrimaryName: "标签照片", FieldID: "fldIm3Bq86"},
	{LocalPath: "images.package", PrimaryName: "外包装图片", FieldID: "fldIm4Wb42"},
	{LocalPath: "images.gift", PrimaryName: "赠品图片", FieldID: "fldIm5Zp58"},
}

// LoadProductTable builds and validates the product mapping table.
// Call once at startup; a non-nil error means the static mapping itself is
// broken and the process must not start.
func LoadProductTable() (*Table, error) {
	return New(productEntries)
}
