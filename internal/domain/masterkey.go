package domain

// PlaceholderMasterKey 主密钥文件缺失时写入的占位值，生产环境中永远不应被视为有效
const PlaceholderMasterKey = "sk-your-default-master-key-here-replace-in-production"

// MasterKeyFile 主密钥持久化结构
type MasterKeyFile struct {
	MasterKeys []string `json:"master_keys"`
}
