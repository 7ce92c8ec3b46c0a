package metadata

/** @brief The name of the default material. */
const DefaultMaterialName string = "default"

/**
 * @brief A texture reference inside a material configuration, by asset name.
 */
type TextureMapConfig struct {
	/** @brief Name of the texture asset. */
	Texture string        `toml:"texture"`
	Use     TextureUse    `toml:"use"`
	Filter  TextureFilter `toml:"filter"`
	Repeat  TextureRepeat `toml:"repeat"`
}

/**
 * @brief Material configuration typically loaded from
 * a file or created in code to load a material from.
 */
type MaterialConfig struct {
	/** @brief The name of the material. */
	Name string `toml:"name"`
	/** @brief The pipeline description the material is drawn with. */
	Pipeline string `toml:"pipeline"`
	/** @brief The diffuse colour of the material. */
	DiffuseColour [4]float32 `toml:"diffuse_colour"`
	/** @brief The shininess of the material. */
	Shininess float32 `toml:"shininess"`
	/** @brief Texture maps, in shader table order. */
	Maps []TextureMapConfig `toml:"maps"`
}
